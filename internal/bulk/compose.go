// Package bulk composes bulk operations into byte-bounded request chunks and
// classifies per-operation failures from bulk responses.
package bulk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/Aman-CERP/indexsync/internal/store"
)

// Chunk is one bulk request worth of operations and their serialized body.
type Chunk struct {
	Operations []store.BulkOperation
	Body       []byte
}

// Size returns the serialized size of the chunk in bytes.
func (c Chunk) Size() int {
	return len(c.Body)
}

type meta struct {
	ID string `json:"_id"`
}

// EncodeError reports an operation that could not be serialized. Chunks
// yields it in place of a chunk and carries on with the next operation.
type EncodeError struct {
	Op  store.BulkOperation
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s %s: %v", e.Op.Action, e.Op.ID, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Failure reports the operation the way the store reports a rejected document.
func (e *EncodeError) Failure() Failure {
	return Failure{
		Action: e.Op.Action,
		ID:     e.Op.ID,
		Error:  store.BulkError{Type: store.ErrTypeMapperParsing, Reason: e.Err.Error()},
	}
}

// Encode serializes one operation as newline-delimited JSON: an action line,
// followed by a source line for index and update operations.
func Encode(op store.BulkOperation) ([]byte, error) {
	var buf bytes.Buffer

	header, err := json.Marshal(map[store.Action]meta{op.Action: {ID: op.ID}})
	if err != nil {
		return nil, err
	}
	buf.Write(header)
	buf.WriteByte('\n')

	var source any
	switch op.Action {
	case store.ActionIndex:
		source = op.Document
	case store.ActionUpdate:
		source = map[string]any{"doc": op.Document}
	case store.ActionDelete:
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown bulk action %q", op.Action)
	}

	body, err := json.Marshal(source)
	if err != nil {
		return nil, err
	}
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Chunks slices ops into chunks whose body stays within bulkSize bytes.
//
// A chunk is closed when adding the next operation would exceed bulkSize; an
// operation larger than bulkSize on its own still gets a chunk of its own.
// With bulkSize <= 0 everything goes into a single chunk. An operation that
// fails to encode is left out of every chunk and yielded as an *EncodeError.
// The sequence is lazy and can be ranged over again, which re-encodes from
// the start.
func Chunks(ops []store.BulkOperation, bulkSize int64) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		var (
			current Chunk
			size    int64
		)

		for _, op := range ops {
			encoded, err := Encode(op)
			if err != nil {
				if !yield(Chunk{}, &EncodeError{Op: op, Err: err}) {
					return
				}
				continue
			}

			n := int64(len(encoded))
			if bulkSize > 0 && len(current.Operations) > 0 && size+n > bulkSize {
				if !yield(current, nil) {
					return
				}
				current, size = Chunk{}, 0
			}

			current.Operations = append(current.Operations, op)
			current.Body = append(current.Body, encoded...)
			size += n
		}

		if len(current.Operations) > 0 {
			yield(current, nil)
		}
	}
}

// Package store provides the two collaborators the sync engine talks to: the
// authoritative record source (DocumentAdapter, backed by SQLite) and the
// search index store (BulkClient, backed by Bleve).
package store

import (
	"context"
	"net/http"
)

// Action is what should happen to a document in the index.
type Action string

const (
	// ActionIndex writes the full document.
	ActionIndex Action = "index"
	// ActionUpdate merges a partial document into an existing one.
	ActionUpdate Action = "update"
	// ActionDelete removes the document.
	ActionDelete Action = "delete"
)

// Record is one object of the authoritative source.
type Record struct {
	ID      string
	Fields  map[string]any
	Deleted bool
}

// Document is the indexed representation of a record.
type Document map[string]any

// Selector picks the records an import works on.
// Records take precedence over IDs; All imports the whole source.
type Selector struct {
	All     bool
	IDs     []string
	Records []Record
}

// All selects every record of the source.
func All() Selector {
	return Selector{All: true}
}

// ByIDs selects the given ids.
func ByIDs(ids ...string) Selector {
	return Selector{IDs: ids}
}

// ByRecords selects already loaded records.
func ByRecords(records ...Record) Selector {
	return Selector{Records: records}
}

// Empty reports whether the selector can match nothing.
func (s Selector) Empty() bool {
	return !s.All && len(s.IDs) == 0 && len(s.Records) == 0
}

// ActionGroups maps an action to the records sharing it within one fetched batch.
// Only ActionIndex and ActionDelete appear as keys.
type ActionGroups map[Action][]Record

// Len returns the number of records across all groups.
func (g ActionGroups) Len() int {
	n := 0
	for _, records := range g {
		n += len(records)
	}
	return n
}

// GroupRecords classifies records by action: deleted records are removed from
// the index, everything else is written.
func GroupRecords(records []Record) ActionGroups {
	groups := make(ActionGroups)
	for _, r := range records {
		if r.Deleted {
			groups[ActionDelete] = append(groups[ActionDelete], r)
		} else {
			groups[ActionIndex] = append(groups[ActionIndex], r)
		}
	}
	return groups
}

// FieldValues carries the values of the requested fields for one record.
type FieldValues struct {
	ID     string
	Values []any
}

// DocumentAdapter converts source identifiers and objects into records and
// classifies them by action.
type DocumentAdapter interface {
	// Resolve loads the selected records in rounds of at most batchSize and
	// calls fn once per non-empty round. Requested ids that no longer exist in
	// the source are reported in the delete group.
	Resolve(ctx context.Context, sel Selector, batchSize int, fn func(ActionGroups) error) error

	// ResolveFields streams (id, values) pairs for live records. With no
	// fields only ids are produced.
	ResolveFields(ctx context.Context, sel Selector, fields []string, batchSize int, fn func([]FieldValues) error) error

	// Identify returns the ids of the given records.
	Identify(records []Record) []string
}

// ErrTypeDocumentMissing is the bulk error type returned when an update targets
// a document that does not exist in the index.
const ErrTypeDocumentMissing = "document_missing_exception"

// ErrTypeMapperParsing is the bulk error type for documents the store rejects.
const ErrTypeMapperParsing = "mapper_parsing_exception"

// BulkOperation is one document-level instruction of a bulk request.
type BulkOperation struct {
	Action   Action
	ID       string
	Document Document
}

// BulkError is the error payload reported for a failed bulk item.
type BulkError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// BulkItem is the per-operation status of a bulk request.
type BulkItem struct {
	Action Action
	ID     string
	Status int
	Error  *BulkError
}

// Failed reports whether the item carries an error.
func (i BulkItem) Failed() bool {
	return i.Error != nil
}

// BulkRequest is one wire-level chunk submitted to the store.
type BulkRequest struct {
	Index      string
	Operations []BulkOperation
	// Body is the serialized newline-delimited form of Operations.
	Body []byte
	// Refresh makes the writes visible to searches before returning on
	// stores that refresh lazily. BleveClient writes are always visible.
	Refresh bool
}

// Hit is a document returned by a search.
type Hit struct {
	ID     string
	Fields map[string]any
}

// Query narrows searches against the index store.
type Query struct {
	// IDs restricts the search to these document ids; empty matches all.
	IDs []string
	// Fields lists the stored fields to return with each hit.
	Fields []string
	// Size is the page size; zero uses the client default.
	Size int
}

// BulkClient executes batched writes and search/count/scroll calls against the index store.
type BulkClient interface {
	// Bulk executes the operations and reports per-operation status. A returned
	// error means the request as a whole could not be executed.
	Bulk(ctx context.Context, req *BulkRequest) ([]BulkItem, error)

	// Search returns one page of hits.
	Search(ctx context.Context, index string, q Query) ([]Hit, error)

	// Count returns the number of matching documents.
	Count(ctx context.Context, index string, q Query) (int, error)

	// Scroll pages through every matching document, calling fn per page.
	Scroll(ctx context.Context, index string, q Query, fn func([]Hit) error) error
}

// Status codes reported on bulk items, mirroring HTTP semantics.
const (
	StatusOK         = http.StatusOK
	StatusCreated    = http.StatusCreated
	StatusBadRequest = http.StatusBadRequest
	StatusNotFound   = http.StatusNotFound
)

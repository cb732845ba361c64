package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"

	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
)

const (
	entryPrefix = "journal/"
	seqKey      = "meta/seq"
)

// PebbleStore keeps journal entries in a Pebble key-value store. Keys sort by
// creation time, then by a store-wide sequence number:
//
//	journal/<created_at:020d>/<seq:020d>
type PebbleStore struct {
	mu     sync.Mutex
	db     *pebble.DB
	path   string
	seq    int64
	closed bool
}

// OpenPebbleStore opens or creates a Pebble journal at path.
func OpenPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, syncerr.JournalError(fmt.Sprintf("open pebble journal %s", path), err)
	}

	s := &PebbleStore{db: db, path: path}
	if err := s.loadSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) loadSeq() error {
	data, closer, err := s.db.Get([]byte(seqKey))
	if closer != nil {
		defer closer.Close()
	}
	if err == pebble.ErrNotFound {
		return nil
	}
	if err != nil {
		return syncerr.JournalError("read journal sequence", err)
	}
	if len(data) != 8 {
		return syncerr.JournalError("journal sequence is corrupt", nil)
	}
	s.seq = int64(binary.BigEndian.Uint64(data))
	return nil
}

func entryKey(createdAt, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d", entryPrefix, createdAt, seq))
}

func parseEntryKey(key []byte) (Cursor, error) {
	parts := strings.Split(strings.TrimPrefix(string(key), entryPrefix), "/")
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("malformed journal key %q", key)
	}
	createdAt, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed journal key %q: %w", key, err)
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed journal key %q: %w", key, err)
	}
	return Cursor{CreatedAt: createdAt, Seq: seq}, nil
}

// Create is a no-op: the store exists once opened.
func (s *PebbleStore) Create(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return syncerr.JournalError("journal is closed", nil)
	}
	return nil
}

// Append writes entries and the advanced sequence in one synced batch.
func (s *PebbleStore) Append(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return syncerr.JournalError("journal is closed", nil)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	seq := s.seq
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return syncerr.JournalError("encode journal entry", err)
		}
		seq++
		if err := batch.Set(entryKey(e.CreatedAt, seq), data, nil); err != nil {
			return syncerr.JournalError("stage journal entry", err)
		}
	}

	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], uint64(seq))
	if err := batch.Set([]byte(seqKey), seqBuf[:], nil); err != nil {
		return syncerr.JournalError("stage journal sequence", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return syncerr.JournalError("commit journal batch", err)
	}
	s.seq = seq
	return nil
}

// Scan iterates entries from the lower bound given by q.
func (s *PebbleStore) Scan(ctx context.Context, q ScanQuery) ([]Stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, syncerr.JournalError("journal is closed", nil)
	}

	lower := entryKey(q.Since, 0)
	if q.After != nil && q.After.CreatedAt >= q.Since {
		lower = entryKey(q.After.CreatedAt, q.After.Seq+1)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: []byte(entryPrefix + "~"),
	})
	if err != nil {
		return nil, syncerr.JournalError("create iterator", err)
	}
	defer iter.Close()

	var out []Stored
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cursor, err := parseEntryKey(iter.Key())
		if err != nil {
			return nil, syncerr.JournalError("scan journal", err)
		}

		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, syncerr.JournalError(fmt.Sprintf("decode journal entry %d", cursor.Seq), err)
		}
		if !matchesOnly(q.Only, e.IndexName) {
			continue
		}

		out = append(out, Stored{Entry: e, Cursor: cursor})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, syncerr.JournalError("iterate journal", err)
	}
	return out, nil
}

// DeleteBefore removes entries created before the given unix second.
func (s *PebbleStore) DeleteBefore(ctx context.Context, before int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, syncerr.JournalError("journal is closed", nil)
	}

	lower, upper := []byte(entryPrefix), entryKey(before, 0)

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, syncerr.JournalError("create iterator", err)
	}
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	iterErr := iter.Error()
	_ = iter.Close()
	if iterErr != nil {
		return 0, syncerr.JournalError("count journal entries", iterErr)
	}
	if n == 0 {
		return 0, nil
	}

	if err := s.db.DeleteRange(lower, upper, pebble.Sync); err != nil {
		return 0, syncerr.JournalError("delete journal entries", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*PebbleStore)(nil)

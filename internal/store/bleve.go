package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
)

// sourcePrefix namespaces the raw document sources kept as bleve internal data.
const sourcePrefix = "_source/"

// defaultPageSize is used by Search and Scroll when the query sets no size.
const defaultPageSize = 1000

var indexNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// BleveConfig configures the Bleve-backed index store.
type BleveConfig struct {
	// Dir holds one bleve index per index name. Empty keeps everything in memory.
	Dir string

	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration

	// Retry governs retries of batches that fail as a whole.
	Retry syncerr.RetryConfig
}

// DefaultBleveConfig returns an in-memory configuration with default retries.
func DefaultBleveConfig() BleveConfig {
	return BleveConfig{
		Timeout: 30 * time.Second,
		Retry:   syncerr.DefaultRetryConfig(),
	}
}

// BleveClient implements BulkClient on top of Bleve v2.
//
// Bleve has no partial updates, so the raw source of every document is kept as
// internal data next to the indexed fields. Updates merge into that source and
// reindex the result; hits are served from it as well.
type BleveClient struct {
	mu      sync.Mutex
	config  BleveConfig
	indexes map[string]bleve.Index
	closed  bool
}

// Verify interface implementation
var _ BulkClient = (*BleveClient)(nil)

// NewBleveClient creates a client. Indexes are opened lazily on first use.
func NewBleveClient(cfg BleveConfig) *BleveClient {
	return &BleveClient{
		config:  cfg,
		indexes: make(map[string]bleve.Index),
	}
}

// validateIndexIntegrity checks if a Bleve index directory is usable before opening.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // will be created
	}

	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isCorruptionError checks if an error indicates Bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// open returns the named index, creating it when needed.
func (c *BleveClient) open(name string) (bleve.Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, syncerr.StoreUnavailable("index store is closed", nil)
	}
	if idx, ok := c.indexes[name]; ok {
		return idx, nil
	}
	if !indexNamePattern.MatchString(name) {
		return nil, syncerr.ValidationError(fmt.Sprintf("invalid index name %q", name), nil)
	}

	var (
		idx bleve.Index
		err error
	)
	if c.config.Dir == "" {
		idx, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	} else {
		idx, err = c.openOnDisk(filepath.Join(c.config.Dir, name+".bleve"))
	}
	if err != nil {
		return nil, syncerr.StoreUnavailable(fmt.Sprintf("open index %s", name), err)
	}

	c.indexes[name] = idx
	return idx, nil
}

// openOnDisk opens or creates an on-disk index. A corrupted index is cleared:
// the index is derived data and can always be rebuilt from the source.
func (c *BleveClient) openOnDisk(path string) (bleve.Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}

	if validErr := validateIndexIntegrity(path); validErr != nil {
		slog.Warn("bleve_index_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, fmt.Errorf("index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
		}
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		return bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil && isCorruptionError(err) {
		slog.Warn("bleve_index_open_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, fmt.Errorf("index corrupted, cannot clear: %w (original: %v)", removeErr, err)
		}
		slog.Info("bleve_index_cleared",
			slog.String("path", path),
			slog.String("reason", "open failed with corruption, run a full sync"))
		return bleve.New(path, bleve.NewIndexMapping())
	}
	return idx, err
}

// CreateIndex makes sure the named index exists.
func (c *BleveClient) CreateIndex(name string) error {
	_, err := c.open(name)
	return err
}

// DeleteIndex closes and removes the named index.
func (c *BleveClient) DeleteIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.indexes[name]; ok {
		_ = idx.Close()
		delete(c.indexes, name)
	}
	if c.config.Dir == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(c.config.Dir, name+".bleve"))
}

// withTimeout applies the configured per-request timeout.
func (c *BleveClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}

// Bulk executes the operations of one chunk as a single bleve batch. A
// bleve batch is searchable once it is applied, so req.Refresh has no
// effect on this backend.
func (c *BleveClient) Bulk(ctx context.Context, req *BulkRequest) ([]BulkItem, error) {
	if req == nil || len(req.Operations) == 0 {
		return nil, nil
	}

	idx, err := c.open(req.Index)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	return syncerr.RetryWithResult(ctx, c.config.Retry, func() ([]BulkItem, error) {
		return c.executeBulk(ctx, idx, req)
	})
}

// executeBulk builds and commits one batch. Sources written earlier in the
// same batch are visible to later operations through pending.
func (c *BleveClient) executeBulk(ctx context.Context, idx bleve.Index, req *BulkRequest) ([]BulkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, syncerr.New(syncerr.ErrCodeNetworkTimeout, "bulk request cancelled", err)
	}

	batch := idx.NewBatch()
	pending := make(map[string]Document)
	items := make([]BulkItem, 0, len(req.Operations))

	lookup := func(id string) (Document, error) {
		if doc, ok := pending[id]; ok {
			return doc, nil
		}
		return readSource(idx, id)
	}

	for _, op := range req.Operations {
		item := BulkItem{Action: op.Action, ID: op.ID, Status: StatusOK}

		switch op.Action {
		case ActionIndex:
			if bulkErr := stage(batch, op.ID, op.Document); bulkErr != nil {
				item.Status, item.Error = StatusBadRequest, bulkErr
			} else {
				pending[op.ID] = op.Document
				item.Status = StatusCreated
			}

		case ActionUpdate:
			existing, err := lookup(op.ID)
			if err != nil {
				return nil, syncerr.StoreUnavailable(fmt.Sprintf("read source of %s", op.ID), err)
			}
			if existing == nil {
				item.Status = StatusNotFound
				item.Error = &BulkError{
					Type:   ErrTypeDocumentMissing,
					Reason: fmt.Sprintf("[%s]: document missing", op.ID),
				}
				break
			}
			merged := make(Document, len(existing)+len(op.Document))
			for k, v := range existing {
				merged[k] = v
			}
			for k, v := range op.Document {
				merged[k] = v
			}
			if bulkErr := stage(batch, op.ID, merged); bulkErr != nil {
				item.Status, item.Error = StatusBadRequest, bulkErr
			} else {
				pending[op.ID] = merged
			}

		case ActionDelete:
			existing, err := lookup(op.ID)
			if err != nil {
				return nil, syncerr.StoreUnavailable(fmt.Sprintf("read source of %s", op.ID), err)
			}
			if existing == nil {
				// Deleting an absent document is a no-op.
				item.Status = StatusNotFound
			}
			batch.Delete(op.ID)
			batch.DeleteInternal([]byte(sourcePrefix + op.ID))
			pending[op.ID] = nil

		default:
			item.Status = StatusBadRequest
			item.Error = &BulkError{Type: "action_request_validation_exception", Reason: fmt.Sprintf("unknown action %q", op.Action)}
		}

		items = append(items, item)
	}

	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			return nil, syncerr.StoreUnavailable("failed to execute batch", err)
		}
	}

	return items, nil
}

// stage adds a document and its raw source to the batch.
func stage(batch *bleve.Batch, id string, doc Document) *BulkError {
	raw, err := json.Marshal(doc)
	if err != nil {
		return &BulkError{Type: ErrTypeMapperParsing, Reason: fmt.Sprintf("failed to serialize document: %v", err)}
	}
	if err := batch.Index(id, map[string]any(doc)); err != nil {
		return &BulkError{Type: ErrTypeMapperParsing, Reason: err.Error()}
	}
	batch.SetInternal([]byte(sourcePrefix+id), raw)
	return nil
}

// readSource returns the stored source of a document, or nil if it does not exist.
func readSource(idx bleve.Index, id string) (Document, error) {
	raw, err := idx.GetInternal([]byte(sourcePrefix + id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode source of %s: %w", id, err)
	}
	return doc, nil
}

// buildQuery turns a Query into a bleve query.
func buildQuery(q Query) query.Query {
	if len(q.IDs) > 0 {
		return bleve.NewDocIDQuery(q.IDs)
	}
	return bleve.NewMatchAllQuery()
}

// Search returns one page of hits ordered by id.
func (c *BleveClient) Search(ctx context.Context, index string, q Query) ([]Hit, error) {
	idx, err := c.open(index)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	size := q.Size
	if size <= 0 {
		size = defaultPageSize
	}
	return c.searchPage(ctx, idx, q, size, nil)
}

func (c *BleveClient) searchPage(ctx context.Context, idx bleve.Index, q Query, size int, after []string) ([]Hit, error) {
	req := bleve.NewSearchRequestOptions(buildQuery(q), size, 0, false)
	req.SortBy([]string{"_id"})
	if after != nil {
		req.SearchAfter = after
	}

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, syncerr.StoreUnavailable("search failed", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, match := range result.Hits {
		hit := Hit{ID: match.ID}
		if len(q.Fields) > 0 {
			source, err := readSource(idx, match.ID)
			if err != nil {
				return nil, syncerr.StoreUnavailable(fmt.Sprintf("read source of %s", match.ID), err)
			}
			hit.Fields = make(map[string]any, len(q.Fields))
			for _, f := range q.Fields {
				if v, ok := source[f]; ok {
					hit.Fields[f] = v
				}
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of matching documents.
func (c *BleveClient) Count(ctx context.Context, index string, q Query) (int, error) {
	idx, err := c.open(index)
	if err != nil {
		return 0, err
	}

	if len(q.IDs) == 0 {
		n, err := idx.DocCount()
		if err != nil {
			return 0, syncerr.StoreUnavailable("count failed", err)
		}
		return int(n), nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := idx.SearchInContext(ctx, bleve.NewSearchRequestOptions(buildQuery(q), 0, 0, false))
	if err != nil {
		return 0, syncerr.StoreUnavailable("count failed", err)
	}
	return int(result.Total), nil
}

// Scroll pages through all matching documents using search_after on the id.
// The per-request timeout applies to each page, not to the whole scroll.
func (c *BleveClient) Scroll(ctx context.Context, index string, q Query, fn func([]Hit) error) error {
	idx, err := c.open(index)
	if err != nil {
		return err
	}

	size := q.Size
	if size <= 0 {
		size = defaultPageSize
	}

	var after []string
	for {
		pageCtx, cancel := c.withTimeout(ctx)
		hits, err := c.searchPage(pageCtx, idx, q, size, after)
		cancel()
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			return nil
		}
		if err := fn(hits); err != nil {
			return err
		}
		if len(hits) < size {
			return nil
		}
		after = []string{hits[len(hits)-1].ID}
	}
}

// Close closes all open indexes.
func (c *BleveClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	for name, idx := range c.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close index %s: %w", name, err)
		}
	}
	c.indexes = nil
	return firstErr
}

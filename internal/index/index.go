// Package index implements the import routine: it pulls records from a
// document adapter, composes bulk operations, submits them to the index store
// and accounts for per-document failures.
package index

import (
	"context"
	"fmt"
	"maps"
	"time"

	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/journal"
	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/telemetry"
)

// DefaultTypeName is used when a definition names no type.
const DefaultTypeName = "_doc"

// Field maps one document field to its value. Value takes precedence over
// Source; with neither set the field of the same name is copied.
type Field struct {
	Name   string
	Source string
	Value  func(store.Record) any
}

// Definition describes an index.
type Definition struct {
	Name     string
	TypeName string
	// Fields lists the indexed fields. Empty indexes every record field.
	Fields []Field
}

// Appender stores journal entries.
type Appender interface {
	Append(ctx context.Context, entries ...journal.Entry) error
}

// Dependencies contains the injected collaborators of an Index.
type Dependencies struct {
	// Adapter loads records from the source (required).
	Adapter store.DocumentAdapter

	// Client writes to the index store (required).
	Client store.BulkClient

	// Journal records accepted actions when journaling is enabled.
	Journal Appender

	// Sink receives one event per import call.
	Sink telemetry.Sink

	// Now overrides the clock for journal timestamps.
	Now func() time.Time
}

// Index keeps one search index in sync with its source.
type Index struct {
	name     string
	typeName string
	fields   []Field
	adapter  store.DocumentAdapter
	client   store.BulkClient
	journal  Appender
	sink     telemetry.Sink
	now      func() time.Time
	defaults Options
}

// New creates an Index. opts adjust DefaultOptions to form the index defaults.
func New(def Definition, deps Dependencies, opts ...Option) (*Index, error) {
	if def.Name == "" {
		return nil, syncerr.ValidationError("index name is required", nil)
	}
	if deps.Adapter == nil {
		return nil, syncerr.ValidationError(fmt.Sprintf("index %s: document adapter is required", def.Name), nil)
	}
	if deps.Client == nil {
		return nil, syncerr.ValidationError(fmt.Sprintf("index %s: bulk client is required", def.Name), nil)
	}
	for _, f := range def.Fields {
		if f.Name == "" {
			return nil, syncerr.ValidationError(fmt.Sprintf("index %s: field name is required", def.Name), nil)
		}
	}

	typeName := def.TypeName
	if typeName == "" {
		typeName = DefaultTypeName
	}

	sink := deps.Sink
	if sink == nil {
		sink = telemetry.Nop{}
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Index{
		name:     def.Name,
		typeName: typeName,
		fields:   def.Fields,
		adapter:  deps.Adapter,
		client:   deps.Client,
		journal:  deps.Journal,
		sink:     sink,
		now:      now,
		defaults: apply(DefaultOptions(), opts),
	}, nil
}

// Name returns the index name.
func (i *Index) Name() string { return i.name }

// TypeName returns the document type name.
func (i *Index) TypeName() string { return i.typeName }

// Defaults returns the default import options.
func (i *Index) Defaults() Options { return apply(i.defaults, nil) }

// ResolveOptions returns the index defaults with opts applied.
func (i *Index) ResolveOptions(opts ...Option) Options { return apply(i.defaults, opts) }

// Adapter returns the document adapter.
func (i *Index) Adapter() store.DocumentAdapter { return i.adapter }

// Client returns the bulk client.
func (i *Index) Client() store.BulkClient { return i.client }

// FieldNames returns the names of the indexed fields.
func (i *Index) FieldNames() []string {
	names := make([]string, len(i.fields))
	for n, f := range i.fields {
		names[n] = f.Name
	}
	return names
}

// Indexes reports whether documents carry the named field. Without explicit
// fields every record field is indexed.
func (i *Index) Indexes(name string) bool {
	if len(i.fields) == 0 {
		return true
	}
	_, ok := i.field(name)
	return ok
}

// Compose builds the full document for a record.
func (i *Index) Compose(r store.Record) store.Document {
	if len(i.fields) == 0 {
		doc := make(store.Document, len(r.Fields))
		maps.Copy(doc, r.Fields)
		return doc
	}
	doc := make(store.Document, len(i.fields))
	for _, f := range i.fields {
		doc[f.Name] = f.value(r)
	}
	return doc
}

// ComposeFields builds a partial document holding only the named fields.
func (i *Index) ComposeFields(r store.Record, names []string) store.Document {
	doc := make(store.Document, len(names))
	for _, name := range names {
		if f, ok := i.field(name); ok {
			doc[name] = f.value(r)
		} else {
			doc[name] = r.Fields[name]
		}
	}
	return doc
}

// SourceField returns the source field backing the named document field.
func (i *Index) SourceField(name string) string {
	if f, ok := i.field(name); ok && f.Source != "" {
		return f.Source
	}
	return name
}

func (i *Index) field(name string) (Field, bool) {
	for _, f := range i.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (f Field) value(r store.Record) any {
	if f.Value != nil {
		return f.Value(r)
	}
	source := f.Source
	if source == "" {
		source = f.Name
	}
	if source == store.FieldID {
		if v, ok := r.Fields[source]; ok {
			return v
		}
		return r.ID
	}
	return r.Fields[source]
}

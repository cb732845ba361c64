package index

// DefaultBatchSize is the number of records fetched per round.
const DefaultBatchSize = 1000

// Parallel configures the import worker pool. Workers <= 1 imports sequentially.
type Parallel struct {
	Workers int `json:"workers,omitempty" yaml:"workers"`
}

// Options control one import pass. Options are serializable so that deferred
// imports can carry them to another process.
type Options struct {
	// BatchSize is the number of records fetched from the source per round.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// BulkSize caps the serialized size of one bulk request in bytes. Zero
	// sends each round as a single request.
	BulkSize int64 `json:"bulk_size,omitempty" yaml:"bulk_size"`

	// Refresh makes writes visible to searches before the request returns.
	Refresh bool `json:"refresh" yaml:"refresh"`

	// Journal records every accepted action in the journal.
	Journal bool `json:"journal" yaml:"journal"`

	// UpdateFields restricts writes to partial updates of these fields.
	UpdateFields []string `json:"update_fields,omitempty" yaml:"update_fields"`

	// UpdateFailover rewrites partial updates of missing documents as full
	// index operations.
	UpdateFailover bool `json:"update_failover" yaml:"update_failover"`

	// DirectImport uses the given records as they are instead of reloading
	// them from the source.
	DirectImport bool `json:"direct_import,omitempty" yaml:"direct_import"`

	Parallel Parallel `json:"parallel,omitempty" yaml:"parallel"`
}

// DefaultOptions returns the options used when nothing else is configured.
func DefaultOptions() Options {
	return Options{
		BatchSize:      DefaultBatchSize,
		Refresh:        true,
		UpdateFailover: true,
	}
}

// Option adjusts Options.
type Option func(*Options)

// WithOptions replaces all options.
func WithOptions(o Options) Option {
	return func(opts *Options) {
		*opts = o
	}
}

// WithBatchSize sets the number of records fetched per round.
func WithBatchSize(n int) Option {
	return func(o *Options) {
		o.BatchSize = n
	}
}

// WithBulkSize caps the bulk request size in bytes.
func WithBulkSize(n int64) Option {
	return func(o *Options) {
		o.BulkSize = n
	}
}

// WithRefresh toggles index refresh after writes.
func WithRefresh(refresh bool) Option {
	return func(o *Options) {
		o.Refresh = refresh
	}
}

// WithJournal toggles journaling.
func WithJournal(enabled bool) Option {
	return func(o *Options) {
		o.Journal = enabled
	}
}

// WithUpdateFields restricts writes to partial updates of fields.
func WithUpdateFields(fields ...string) Option {
	return func(o *Options) {
		o.UpdateFields = fields
	}
}

// WithUpdateFailover toggles update failover.
func WithUpdateFailover(enabled bool) Option {
	return func(o *Options) {
		o.UpdateFailover = enabled
	}
}

// WithDirectImport toggles direct import of given records.
func WithDirectImport(enabled bool) Option {
	return func(o *Options) {
		o.DirectImport = enabled
	}
}

// WithParallel sets the number of import workers.
func WithParallel(workers int) Option {
	return func(o *Options) {
		o.Parallel.Workers = workers
	}
}

// apply returns a copy of base with opts applied and invalid values reset.
func apply(base Options, opts []Option) Options {
	o := base
	o.UpdateFields = append([]string(nil), base.UpdateFields...)
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BulkSize < 0 {
		o.BulkSize = 0
	}
	return o
}

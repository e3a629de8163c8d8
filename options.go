package colstore

type options struct {
	endian        Endian
	pageSize      int
	lockMode      LockMode
	logger        *Logger
	compression   Compression
	maxCacheBytes int64
	useTableCache bool
}

func defaultOptions() options {
	return options{
		endian:   EndianNative,
		pageSize: 4096,
		lockMode: LockAuto,
		logger:   NoopLogger(),
	}
}

// Option configures table creation and opening.
type Option func(*options)

// WithEndian selects the on-disk byte order for a new table. Native is
// resolved to big or little at creation time and recorded in the header;
// it never changes afterwards. Ignored when opening an existing table.
func WithEndian(e Endian) Option {
	return func(o *options) { o.endian = e }
}

// WithPageSize sets the page size of a new table; a power of two, default
// 4096. Ignored when opening an existing table.
func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// WithLockMode selects the locking discipline for this handle.
func WithLockMode(m LockMode) Option {
	return func(o *options) { o.lockMode = m }
}

// WithLogger attaches a structured logger. The default discards output.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithCompression enables payload compression for tile data written by
// tiled storage managers created in this table.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithMaxCacheBytes caps the bucket and tile caches per storage manager.
func WithMaxCacheBytes(n int64) Option {
	return func(o *options) { o.maxCacheBytes = n }
}

// WithTableCache routes the open through the process-wide table cache, so
// concurrent opens of the same path share one underlying table state.
func WithTableCache() Option {
	return func(o *options) { o.useTableCache = true }
}

// Package module implements dynamic-content module loading: a load-through
// LRU cache of open shared objects, execution of the fixed entry symbol,
// and background revalidation of modules whose backing files changed.
package module

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/WillKirkmanM/dynamo/internal/cache"
	"github.com/WillKirkmanM/dynamo/internal/dynlib"
	"github.com/WillKirkmanM/dynamo/internal/logging"
	"github.com/WillKirkmanM/dynamo/internal/metrics"
	"github.com/WillKirkmanM/dynamo/internal/netutil"
)

// Loader resolves, caches and executes dynamic modules.
//
// With caching enabled, a load inserts the handle into the cache with an
// eviction callback that releases it, and the execution-path mutex
// serializes load→execute so a concurrent eviction or revalidation can
// never close a handle mid-call. With caching disabled every load is paired
// with an unload and no handle outlives its request
type Loader struct {
	runtime dynlib.Runtime
	cache   *cache.Cache // nil when caching is disabled
	cgiDir  string
	logger  *logging.Logger
	metrics *metrics.Metrics

	execMu sync.Mutex // serializes load→execute against eviction
}

// NewLoader creates a loader serving modules from cgiDir. Pass a nil cache
// to disable caching
func NewLoader(runtime dynlib.Runtime, c *cache.Cache, cgiDir string, logger *logging.Logger, m *metrics.Metrics) *Loader {
	return &Loader{
		runtime: runtime,
		cache:   c,
		cgiDir:  cgiDir,
		logger:  logger,
		metrics: m,
	}
}

// Load resolves the module at path, consulting the cache first when caching
// is enabled. On a miss the module is opened, its current byte size
// recorded, and the handle inserted with an eviction callback that releases
// it. On a hit the cached handle is returned without re-opening
func (l *Loader) Load(ctx context.Context, path string) (dynlib.Handle, error) {
	if l.cache != nil {
		if v, ok := l.cache.Lookup(path); ok {
			l.metrics.RecordCacheLookup(true)
			return v.(dynlib.Handle), nil
		}
		l.metrics.RecordCacheLookup(false)
	}

	h, err := l.runtime.Open(path)
	if err != nil {
		return 0, err
	}
	l.metrics.RecordModuleLoad()

	if l.cache != nil {
		var size int64
		if st, err := os.Stat(path); err != nil {
			l.logger.Warn(ctx, "stat failed for loaded module",
				slog.String("path", path), slog.String("error", err.Error()))
		} else {
			size = st.Size()
		}

		if err := l.cache.Insert(path, h, size, l.onEvict); err != nil {
			// The module alone exceeds the cache capacity. It stays open
			// for the lifetime of the process and is served uncached
			l.logger.Warn(ctx, "module larger than cache capacity, serving uncached",
				slog.String("path", path), slog.Int64("size", size))
		}
		l.metrics.SetCacheSize(l.cache.Size())
	}
	return h, nil
}

// Execute resolves the fixed entry symbol in the module and calls it with
// fd. The module writes its complete HTTP response to fd
func (l *Loader) Execute(h dynlib.Handle, fd int) error {
	fn, err := l.runtime.Resolve(h, dynlib.EntrySymbol)
	if err != nil {
		return fmt.Errorf("module: %w", err)
	}
	fn(int32(fd))
	return nil
}

// Unload releases the module handle. Release failures are logged and
// swallowed: the process keeps serving
func (l *Loader) Unload(ctx context.Context, h dynlib.Handle) {
	if err := l.runtime.Close(h); err != nil {
		l.logger.Warn(ctx, "module release failed", slog.String("error", err.Error()))
		return
	}
	l.metrics.RecordModuleUnload()
}

// onEvict is the eviction callback attached to every cached handle
func (l *Loader) onEvict(key string, value any) {
	l.metrics.RecordEviction()
	if err := l.runtime.Close(value.(dynlib.Handle)); err != nil {
		l.logger.Warn(context.Background(), "evicted module release failed",
			slog.String("path", key), slog.String("error", err.Error()))
		return
	}
	l.metrics.RecordModuleUnload()
}

// ServeDynamic serves one dynamic request on fd: load the named module,
// run its entry function, unload when caching is off. A module that cannot
// be loaded gets a 404 response.
//
// Worker agents call this once per accepted internal connection
func (l *Loader) ServeDynamic(ctx context.Context, fd int, resource string) {
	path := filepath.Join(l.cgiDir, resource+".so")

	if l.cache != nil {
		l.execMu.Lock()
		defer l.execMu.Unlock()
	}

	h, err := l.Load(ctx, path)
	if err != nil {
		l.logger.Debug(ctx, "dynamic module not loadable",
			slog.String("path", path), slog.String("error", err.Error()))
		netutil.WriteAll(fd, []byte("HTTP/1.0 404 Not Found\r\n\r\n"))
		return
	}

	if err := l.Execute(h, fd); err != nil {
		l.logger.Error(ctx, "module entry symbol missing", err, slog.String("path", path))
		netutil.WriteAll(fd, []byte("HTTP/1.0 404 Not Found\r\n\r\n"))
	}

	if l.cache == nil {
		l.Unload(ctx, h)
	}
}

package module

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/WillKirkmanM/dynamo/internal/cache"
	"github.com/WillKirkmanM/dynamo/internal/dynlib"
)

// Revalidator is the background task that keeps cached modules in sync
// with their backing files. Every period it walks the cache under the
// cache write lock and reloads any module whose on-disk size differs from
// the size recorded at load time.
//
// A failed stat keeps the old handle: stale is better than missing. The
// walk also takes the loader's execution-path mutex so a reload can never
// close a handle an agent is about to call into
type Revalidator struct {
	loader *Loader
	period time.Duration
}

// NewRevalidator creates the revalidator for this loader's cache. The
// loader must have caching enabled
func (l *Loader) NewRevalidator(period time.Duration) *Revalidator {
	return &Revalidator{
		loader: l,
		period: period,
	}
}

// Start launches the revalidation goroutine. It runs until the context is
// cancelled
func (r *Revalidator) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.RunOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RunOnce performs one revalidation cycle. Exported so tests can drive
// cycles synchronously instead of sleeping through the period
func (r *Revalidator) RunOnce(ctx context.Context) {
	l := r.loader

	l.execMu.Lock()
	defer l.execMu.Unlock()

	l.cache.ForEach(func(e *cache.Entry) {
		st, err := os.Stat(e.Key())
		if err != nil {
			// Backing file gone or unreadable: keep serving the loaded copy
			l.logger.Warn(ctx, "cannot stat cached module, keeping stale copy",
				slog.String("path", e.Key()), slog.String("error", err.Error()))
			return
		}
		if st.Size() == e.Size() {
			return
		}

		if err := l.runtime.Close(e.Value().(dynlib.Handle)); err != nil {
			l.logger.Warn(ctx, "stale module release failed",
				slog.String("path", e.Key()), slog.String("error", err.Error()))
		} else {
			l.metrics.RecordModuleUnload()
		}

		h, err := l.runtime.Open(e.Key())
		if err != nil {
			// The old handle is already released; a zero handle makes the
			// next execution fail over to 404 instead of calling into
			// freed code
			l.logger.Error(ctx, "module reload failed", err, slog.String("path", e.Key()))
			l.cache.Update(e, dynlib.Handle(0), st.Size())
			return
		}
		l.metrics.RecordModuleLoad()
		l.metrics.RecordRevalidation()
		l.cache.Update(e, h, st.Size())

		l.logger.Info(ctx, "module refreshed",
			slog.String("path", e.Key()), slog.Int64("size", st.Size()))
	})

	l.metrics.SetCacheSize(l.cache.Size())
}

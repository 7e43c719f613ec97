package stats

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/WillKirkmanM/dynamo/internal/logging"
)

// Reporter tracks request and reply totals and periodically logs absolute
// counts plus per-second rates. The reactor increments the request counter
// at accept time and the reply counter when a dynamic response completes,
// mirroring where the statistics observer hooks into the request flow
type Reporter struct {
	requests atomic.Int64
	replies  atomic.Int64

	interval time.Duration
	logger   *logging.Logger
}

// NewReporter creates a reporter that logs every interval once started
func NewReporter(interval time.Duration, logger *logging.Logger) *Reporter {
	return &Reporter{
		interval: interval,
		logger:   logger,
	}
}

// IncRequest counts one accepted client connection
// Safe from any goroutine; only the reactor calls it in practice
func (r *Reporter) IncRequest() {
	r.requests.Add(1)
}

// IncReply counts one completed reply
func (r *Reporter) IncReply() {
	r.replies.Add(1)
}

// Requests returns the running request total
func (r *Reporter) Requests() int64 {
	return r.requests.Load()
}

// Replies returns the running reply total
func (r *Reporter) Replies() int64 {
	return r.replies.Load()
}

// Start launches the reporter goroutine
// The goroutine is fire-and-forget: it runs until the context is cancelled
func (r *Reporter) Start(ctx context.Context) {
	go r.run(ctx)
}

// run logs totals and rates once per interval
// Rates are computed against the previous observation, so the first report
// after startup reflects the full interval
func (r *Reporter) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var lastRequests, lastReplies int64
	secs := int64(r.interval / time.Second)
	if secs == 0 {
		secs = 1
	}

	for {
		select {
		case <-ticker.C:
			requests := r.requests.Load()
			replies := r.replies.Load()
			r.logger.Info(ctx, "server statistics",
				slog.Int64("requests", requests),
				slog.Int64("replies", replies),
				slog.Int64("request_rate_per_sec", (requests-lastRequests)/secs),
				slog.Int64("reply_rate_per_sec", (replies-lastReplies)/secs),
			)
			lastRequests = requests
			lastReplies = replies
		case <-ctx.Done():
			return
		}
	}
}

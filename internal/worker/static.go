package worker

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/WillKirkmanM/dynamo/internal/logging"
	"github.com/WillKirkmanM/dynamo/internal/metrics"
	"github.com/WillKirkmanM/dynamo/internal/netutil"
)

var (
	statusOK       = []byte("HTTP/1.0 200 OK\r\n\r\n")
	statusNotFound = []byte("HTTP/1.0 404 Not Found\r\n\r\n")
)

// ServeStatic streams one file resource to the record's client descriptor
// and closes it. The reactor builds a static-class request record, spawns
// this as a fire-and-forget goroutine and relinquishes the descriptor at
// hand-off: from the reactor's point of view the request is terminal once
// dispatched.
//
// The file is transferred with sendfile in bounded chunks, so the bytes
// never cross into userspace
func ServeStatic(rec Record, staticDir string, chunk int, logger *logging.Logger, m *metrics.Metrics) {
	ctx := context.Background()
	start := time.Now()
	clientFD := int(rec.ClientFD)
	defer unix.Close(clientFD)

	path := filepath.Join(staticDir, rec.Resource)
	fileFD, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		netutil.WriteAll(clientFD, statusNotFound)
		m.RecordReply("static", "404", time.Since(start))
		return
	}
	defer unix.Close(fileFD)

	if err := netutil.WriteAll(clientFD, statusOK); err != nil {
		logger.Debug(ctx, "client gone before static response",
			slog.String("resource", rec.Resource), slog.String("error", err.Error()))
		return
	}

	for {
		n, err := unix.Sendfile(clientFD, fileFD, nil, chunk)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			// EPIPE lands here when the client disconnects mid-transfer;
			// SIGPIPE is ignored process-wide
			logger.Debug(ctx, "static transfer aborted",
				slog.String("resource", rec.Resource), slog.String("error", err.Error()))
			return
		}
		if n == 0 {
			break
		}
	}

	m.RecordReply("static", "200", time.Since(start))
}

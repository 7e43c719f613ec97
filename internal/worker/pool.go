package worker

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/WillKirkmanM/dynamo/internal/logging"
	"github.com/WillKirkmanM/dynamo/internal/module"
	"github.com/WillKirkmanM/dynamo/internal/netutil"
)

// Pool is the fixed set of dynamic-content agents. Every agent binds its
// own listening socket to the shared loopback endpoint with SO_REUSEPORT,
// so the kernel load-balances dispatch connections across agents and no
// userspace queue (or its lock) is needed. Backpressure is the agents'
// accept rate.
//
// Agents are sequential: accept, read one request record, run the module,
// close. A slow module never blocks the reactor because the reactor only
// ever writes the fixed-size record
type Pool struct {
	count   int
	port    int
	backlog int
	loader  *module.Loader
	logger  *logging.Logger

	boundPort int
}

// NewPool sizes the agent pool. Port 0 picks an ephemeral shared endpoint,
// which tests use to avoid clashing with a running server
func NewPool(count, port, backlog int, loader *module.Loader, logger *logging.Logger) *Pool {
	return &Pool{
		count:   count,
		port:    port,
		backlog: backlog,
		loader:  loader,
		logger:  logger,
	}
}

// Start binds every agent's listener and launches the agent goroutines.
// All listeners are bound before Start returns, so Port is valid and the
// kernel can balance from the first dispatch onward
func (p *Pool) Start(ctx context.Context) error {
	port := p.port
	fds := make([]int, 0, p.count)

	for i := 0; i < p.count; i++ {
		fd, bound, err := netutil.ListenTCP(port, p.backlog, true)
		if err != nil {
			for _, open := range fds {
				unix.Close(open)
			}
			return fmt.Errorf("worker: agent %d listen: %w", i, err)
		}
		// The first listener fixes the shared endpoint when an ephemeral
		// port was requested; the rest join it via SO_REUSEPORT
		port = bound
		fds = append(fds, fd)
	}
	p.boundPort = port

	for i, fd := range fds {
		go p.runAgent(ctx, i, fd)
	}

	p.logger.Info(ctx, "worker pool started",
		slog.Int("agents", p.count), slog.Int("port", port))
	return nil
}

// Port returns the shared internal endpoint's port
func (p *Pool) Port() int {
	return p.boundPort
}

// runAgent is one agent's serving loop: accept a dispatch connection, read
// exactly one request record, generate the response onto the accepted
// socket, close it. A malformed record drops that connection only; the
// agent keeps serving
func (p *Pool) runAgent(ctx context.Context, id, listenFD int) {
	logger := p.logger.WithFields(slog.Int("agent", id))
	buf := make([]byte, RecordSize)

	for {
		connFD, _, err := unix.Accept(listenFD)
		if err != nil {
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			logger.Error(ctx, "agent accept failed", err)
			continue
		}

		if err := netutil.ReadFull(connFD, buf); err != nil {
			logger.Warn(ctx, "dropping malformed dispatch connection",
				slog.String("error", err.Error()))
			unix.Close(connFD)
			continue
		}

		rec, err := UnmarshalRecord(buf)
		if err != nil {
			logger.Warn(ctx, "dropping malformed request record",
				slog.String("error", err.Error()))
			unix.Close(connFD)
			continue
		}

		p.loader.ServeDynamic(ctx, connFD, rec.Resource)
		unix.Close(connFD)
	}
}

// Package reactor implements the single-threaded readiness loop at the
// heart of the server: it accepts clients, classifies their requests,
// dispatches dynamic work to the agent pool over the internal endpoint,
// hands static work to short-lived workers, and pipes agent output back to
// clients.
package reactor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/WillKirkmanM/dynamo/internal/config"
	"github.com/WillKirkmanM/dynamo/internal/header"
	"github.com/WillKirkmanM/dynamo/internal/logging"
	"github.com/WillKirkmanM/dynamo/internal/metrics"
	"github.com/WillKirkmanM/dynamo/internal/netutil"
	"github.com/WillKirkmanM/dynamo/internal/stats"
	"github.com/WillKirkmanM/dynamo/internal/worker"
)

// Reactor multiplexes readiness across every client and worker descriptor
// from one goroutine. Suspension happens only inside the epoll wait; all
// descriptor I/O is non-blocking except the one-shot record write to a
// freshly connected agent
type Reactor struct {
	cfg        *config.Config
	logger     *logging.Logger
	metrics    *metrics.Metrics
	stats      *stats.Reporter
	workerPort int

	epollFD  int
	listenFD int
	port     int

	// Registry of watched descriptors. epoll hands back the fd; this map
	// is the Go shape of stashing a state pointer in the event payload
	conns map[int32]*Conn

	readBuf []byte
}

// New binds the public listening socket and prepares the epoll instance.
// Registration failures here are process-fatal setup errors surfaced to
// the caller
func New(cfg *config.Config, workerPort int, logger *logging.Logger, m *metrics.Metrics, reporter *stats.Reporter) (*Reactor, error) {
	listenFD, port, err := netutil.ListenTCP(cfg.Server.Port, cfg.Server.ListenBacklog, false)
	if err != nil {
		return nil, fmt.Errorf("reactor: %w", err)
	}
	if err := netutil.SetNonblock(listenFD); err != nil {
		unix.Close(listenFD)
		return nil, fmt.Errorf("reactor: %w", err)
	}

	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(listenFD)
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}

	// Edge-triggered listener: one wakeup per burst, drained by
	// accepting until EAGAIN
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET,
		Fd:     int32(listenFD),
	}
	if err := unix.EpollCtl(epollFD, unix.EPOLL_CTL_ADD, listenFD, &ev); err != nil {
		unix.Close(listenFD)
		unix.Close(epollFD)
		return nil, fmt.Errorf("reactor: register listener: %w", err)
	}

	return &Reactor{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		stats:      reporter,
		workerPort: workerPort,
		epollFD:    epollFD,
		listenFD:   listenFD,
		port:       port,
		conns:      make(map[int32]*Conn),
		readBuf:    make([]byte, cfg.Server.ReadChunk),
	}, nil
}

// Port returns the bound public port
func (r *Reactor) Port() int {
	return r.port
}

// Run is the event loop. It never returns in normal operation; unexpected
// conditions on the loop itself terminate the process
func (r *Reactor) Run() {
	// The loop owns raw descriptors and blocks in epoll_wait; pin it to
	// its OS thread
	runtime.LockOSThread()

	ctx := context.Background()
	events := make([]unix.EpollEvent, r.cfg.Server.MaxEvents)

	r.logger.Info(ctx, "reactor started",
		slog.Int("port", r.port), slog.Int("worker_port", r.workerPort))

	for {
		n, err := unix.EpollWait(r.epollFD, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			r.logger.Fatal(ctx, "epoll_wait failed", err)
		}

		for i := 0; i < n; i++ {
			ev := &events[i]

			if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				r.teardown(ctx, ev.Fd)
				continue
			}
			if int(ev.Fd) == r.listenFD {
				r.acceptAll(ctx)
				continue
			}

			con, ok := r.conns[ev.Fd]
			if !ok {
				// Raced with a teardown in this same batch
				continue
			}
			switch con.role {
			case RoleWorker:
				r.pumpWorker(ctx, con)
			case RoleClient:
				r.handleRequest(ctx, con)
			}
		}
	}
}

// acceptAll drains the edge-triggered listener: accept until EAGAIN,
// register each client non-blocking and edge-triggered
func (r *Reactor) acceptAll(ctx context.Context) {
	for {
		clientFD, _, err := unix.Accept(r.listenFD)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			r.logger.Fatal(ctx, "accept failed", err)
		}

		r.stats.IncRequest()

		if err := netutil.SetNonblock(clientFD); err != nil {
			r.logger.Error(ctx, "cannot make client non-blocking", err)
			unix.Close(clientFD)
			continue
		}

		con := &Conn{
			role:     RoleClient,
			id:       uuid.NewString(),
			clientFD: clientFD,
			workerFD: -1,
		}
		ev := unix.EpollEvent{
			Events: unix.EPOLLIN | unix.EPOLLET | unix.EPOLLHUP | unix.EPOLLERR,
			Fd:     int32(clientFD),
		}
		if err := unix.EpollCtl(r.epollFD, unix.EPOLL_CTL_ADD, clientFD, &ev); err != nil {
			r.logger.Fatal(ctx, "cannot register client descriptor", err)
		}
		r.conns[int32(clientFD)] = con
		r.metrics.IncrementConnections()
	}
}

// handleRequest reads the whole request off an edge-triggered client
// socket, parses the head and classifies the target
func (r *Reactor) handleRequest(ctx context.Context, con *Conn) {
	if con.workerFD != -1 {
		// Already dispatched; anything further from this client is noise
		// on a one-request connection
		return
	}

	var req bytes.Buffer
	for {
		n, err := unix.Read(con.clientFD, r.readBuf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			if err == unix.EINTR {
				continue
			}
			r.dropClient(ctx, con)
			return
		}
		if n == 0 {
			break
		}
		req.Write(r.readBuf[:n])
	}
	if req.Len() == 0 {
		// Spurious wakeup or the peer closed without sending
		r.dropClient(ctx, con)
		return
	}

	h, err := header.Parse(&req)
	if err != nil {
		r.logger.Debug(ctx, "malformed request",
			slog.String("conn", con.id), slog.String("error", err.Error()))
		r.dropClient(ctx, con)
		return
	}

	class, resource := header.Classify(h.Target)
	switch {
	case class == header.ResourceCGIBin:
		r.dispatchDynamic(ctx, con, h, resource)
	case class.IsStatic():
		r.dispatchStatic(ctx, con, class, resource)
	default:
		// No 4xx path for unknown targets: log and leave the socket to
		// its hangup
		r.logger.Debug(ctx, "unknown resource class dropped",
			slog.String("conn", con.id), slog.String("target", h.Target))
	}
}

// dispatchDynamic opens the internal connection to the agent pool, sends
// the fixed-size request record in one write, and registers the worker
// descriptor level-triggered with a back-reference to the client state
func (r *Reactor) dispatchDynamic(ctx context.Context, con *Conn, h *header.Header, resource string) {
	rec := worker.Record{Type: worker.RequestDynamic, Resource: resource}
	frame, err := rec.Marshal()
	if err != nil {
		r.logger.Debug(ctx, "resource name too long",
			slog.String("conn", con.id), slog.String("resource", resource))
		r.dropClient(ctx, con)
		return
	}

	workerFD, err := netutil.DialLoopback(r.workerPort)
	if err != nil {
		// The pool lives in this process; failing to reach it means the
		// server is broken, not the request
		r.logger.Fatal(ctx, "cannot reach worker pool", err)
	}
	if err := netutil.WriteAll(workerFD, frame); err != nil {
		r.logger.Fatal(ctx, "cannot write request record", err)
	}
	if err := netutil.SetNonblock(workerFD); err != nil {
		r.logger.Fatal(ctx, "cannot make worker descriptor non-blocking", err)
	}

	con.start = time.Now()
	con.ctx, con.span = r.logger.RequestSpan(ctx, h.Method, h.Target, con.id)
	con.workerFD = workerFD

	wcon := &Conn{
		role:     RoleWorker,
		id:       con.id,
		clientFD: con.clientFD,
		workerFD: workerFD,
		client:   con,
	}

	// Level-triggered: a large response is drained over several wakeups
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLERR,
		Fd:     int32(workerFD),
	}
	if err := unix.EpollCtl(r.epollFD, unix.EPOLL_CTL_ADD, workerFD, &ev); err != nil {
		r.logger.Fatal(ctx, "cannot register worker descriptor", err)
	}
	r.conns[int32(workerFD)] = wcon
	r.metrics.IncrementConnections()
	r.metrics.RecordRequest("dynamic")
}

// dispatchStatic transfers ownership of the client descriptor to a
// fire-and-forget static worker via a static-class request record. The
// request is terminal for the reactor: the descriptor is deregistered and
// the state record freed at hand-off
func (r *Reactor) dispatchStatic(ctx context.Context, con *Conn, class header.ResourceType, resource string) {
	unix.EpollCtl(r.epollFD, unix.EPOLL_CTL_DEL, con.clientFD, nil)
	delete(r.conns, int32(con.clientFD))
	r.metrics.DecrementConnections()
	r.metrics.RecordRequest("static")

	rec := worker.Record{
		Type:     worker.RequestStatic,
		ClientFD: int32(con.clientFD),
		Resource: resource,
	}
	go worker.ServeStatic(rec, r.cfg.Server.StaticDir,
		r.cfg.Server.ReadChunk, r.logger, r.metrics)
}

// pumpWorker drains whatever the agent has produced and forwards it to the
// client. EOF completes the response; EAGAIN leaves the descriptor
// registered for the next readiness event; any other read error is
// process-fatal
func (r *Reactor) pumpWorker(ctx context.Context, wcon *Conn) {
	for {
		n, err := unix.Read(wcon.workerFD, r.readBuf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				// Partial response; resume on the next event
				return
			}
			if err == unix.EINTR {
				continue
			}
			r.logger.Fatal(ctx, "worker descriptor read failed", err)
		}
		if n == 0 {
			r.completeDynamic(ctx, wcon)
			return
		}
		if err := netutil.WriteAll(wcon.clientFD, r.readBuf[:n]); err != nil {
			// Client went away mid-response
			r.logger.Debug(ctx, "client write failed, dropping response",
				slog.String("conn", wcon.id), slog.String("error", err.Error()))
			r.teardown(ctx, int32(wcon.workerFD))
			return
		}
	}
}

// completeDynamic closes both descriptors of a finished dynamic response
// and reclaims both state records
func (r *Reactor) completeDynamic(ctx context.Context, wcon *Conn) {
	client := wcon.client
	if client != nil {
		r.metrics.RecordReply("dynamic", "200", time.Since(client.start))
		if client.span != nil {
			client.span.End()
		}
	}
	r.stats.IncReply()
	r.closePair(wcon)
}

// dropClient removes a client-edge descriptor and its record. Worker-edge
// records are never reachable from here: the back-pointer runs from worker
// to client only
func (r *Reactor) dropClient(ctx context.Context, con *Conn) {
	unix.EpollCtl(r.epollFD, unix.EPOLL_CTL_DEL, con.clientFD, nil)
	if _, ok := r.conns[int32(con.clientFD)]; ok {
		delete(r.conns, int32(con.clientFD))
		r.metrics.DecrementConnections()
	}
	if con.span != nil {
		con.span.End()
	}
	unix.Close(con.clientFD)
}

// closePair closes a worker descriptor and, when still registered, its
// paired client, reclaiming both records
func (r *Reactor) closePair(wcon *Conn) {
	unix.EpollCtl(r.epollFD, unix.EPOLL_CTL_DEL, wcon.workerFD, nil)
	if _, ok := r.conns[int32(wcon.workerFD)]; ok {
		delete(r.conns, int32(wcon.workerFD))
		r.metrics.DecrementConnections()
	}
	unix.Close(wcon.workerFD)

	if ccon, ok := r.conns[int32(wcon.clientFD)]; ok && ccon == wcon.client {
		unix.EpollCtl(r.epollFD, unix.EPOLL_CTL_DEL, wcon.clientFD, nil)
		delete(r.conns, int32(wcon.clientFD))
		r.metrics.DecrementConnections()
		unix.Close(wcon.clientFD)
	}
}

// teardown handles an error or hangup event on any descriptor: close all
// associated descriptors and free all associated records, following the
// worker-to-client back-pointer when present
func (r *Reactor) teardown(ctx context.Context, fd int32) {
	if int(fd) == r.listenFD {
		r.logger.Fatal(ctx, "error condition on listening socket", nil)
	}

	con, ok := r.conns[fd]
	if !ok {
		unix.Close(int(fd))
		return
	}

	switch con.role {
	case RoleWorker:
		if con.client != nil && con.client.span != nil {
			con.client.span.End()
		}
		r.closePair(con)
	case RoleClient:
		r.dropClient(ctx, con)
	}
}

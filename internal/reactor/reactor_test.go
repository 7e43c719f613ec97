package reactor

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/WillKirkmanM/dynamo/internal/cache"
	"github.com/WillKirkmanM/dynamo/internal/config"
	"github.com/WillKirkmanM/dynamo/internal/dynlib/dynlibtest"
	"github.com/WillKirkmanM/dynamo/internal/logging"
	"github.com/WillKirkmanM/dynamo/internal/metrics"
	"github.com/WillKirkmanM/dynamo/internal/module"
	"github.com/WillKirkmanM/dynamo/internal/stats"
	"github.com/WillKirkmanM/dynamo/internal/worker"
)

const echoResponse = "HTTP/1.0 200 OK\r\n\r\nX"

type testServer struct {
	port    int
	runtime *dynlibtest.FakeRuntime
	stats   *stats.Reporter
}

// startServer boots the full serving stack on ephemeral ports: agent pool,
// loader with cache, reactor. The fake module runtime serves module files
// as literal response bytes
func startServer(t *testing.T) *testServer {
	t.Helper()

	staticDir := t.TempDir()
	cgiDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(staticDir, "hello.html"), []byte("HELLO"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cgiDir, "echo.so"), []byte(echoResponse), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Server.Port = 0
	cfg.Server.StaticDir = staticDir
	cfg.Workers.CGIDir = cgiDir

	logger := logging.NewLogger("test")
	m := metrics.NewMetrics()
	runtime := dynlibtest.NewFakeRuntime()
	loader := module.NewLoader(runtime, cache.New(1<<20), cgiDir, logger, m)

	pool := worker.NewPool(2, 0, 128, loader, logger)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	reporter := stats.NewReporter(time.Minute, logger)
	r, err := New(cfg, pool.Port(), logger, m, reporter)
	if err != nil {
		t.Fatal(err)
	}
	go r.Run()

	return &testServer{port: r.Port(), runtime: runtime, stats: reporter}
}

// request sends one raw HTTP request and returns the complete response
func request(t *testing.T, port int, raw string) string {
	t.Helper()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	out, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	return string(out)
}

// TestStaticOK verifies a present file is served with the 200 status line
func TestStaticOK(t *testing.T) {
	srv := startServer(t)

	got := request(t, srv.port, "GET /hello.html HTTP/1.0\r\n\r\n")
	if got != "HTTP/1.0 200 OK\r\n\r\nHELLO" {
		t.Errorf("unexpected static response %q", got)
	}
}

// TestStaticNotFound verifies a missing file answers the 404 line
func TestStaticNotFound(t *testing.T) {
	srv := startServer(t)

	got := request(t, srv.port, "GET /missing.html HTTP/1.0\r\n\r\n")
	if got != "HTTP/1.0 404 Not Found\r\n\r\n" {
		t.Errorf("unexpected response %q", got)
	}
}

// TestDynamicOK verifies a dynamic request flows through the internal
// dispatch and back out to the client
func TestDynamicOK(t *testing.T) {
	srv := startServer(t)

	got := request(t, srv.port, "GET /cgi-bin/echo HTTP/1.0\r\n\r\n")
	if got != echoResponse {
		t.Errorf("unexpected dynamic response %q", got)
	}
	if srv.stats.Replies() != 1 {
		t.Errorf("expected 1 counted reply, got %d", srv.stats.Replies())
	}
}

// TestDynamicNotFound verifies an absent module answers 404 through the
// same dispatch path
func TestDynamicNotFound(t *testing.T) {
	srv := startServer(t)

	got := request(t, srv.port, "GET /cgi-bin/nope HTTP/1.0\r\n\r\n")
	if got != "HTTP/1.0 404 Not Found\r\n\r\n" {
		t.Errorf("unexpected response %q", got)
	}
}

// TestUnknownDropped verifies an unclassifiable target gets no response at
// all: the connection is simply left to die
func TestUnknownDropped(t *testing.T) {
	srv := startServer(t)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.port))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.Write([]byte("GET /archive.zip HTTP/1.0\r\n\r\n"))
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if n != 0 || err == nil {
		t.Errorf("expected no bytes for unknown target, got %d (%v)", n, err)
	}
}

// TestConcurrentDynamic issues many concurrent dynamic requests for one
// module and expects every one answered, with a single load thanks to the
// cache and the execution-path serialization
func TestConcurrentDynamic(t *testing.T) {
	srv := startServer(t)

	const clients = 100
	var wg sync.WaitGroup
	errs := make(chan string, clients)

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.port))
			if err != nil {
				errs <- err.Error()
				return
			}
			defer conn.Close()

			if _, err := conn.Write([]byte("GET /cgi-bin/echo HTTP/1.0\r\n\r\n")); err != nil {
				errs <- err.Error()
				return
			}
			conn.SetReadDeadline(time.Now().Add(10 * time.Second))
			out, err := io.ReadAll(conn)
			if err != nil || string(out) != echoResponse {
				errs <- fmt.Sprintf("bad response %q (err %v)", out, err)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
	if srv.runtime.Opens() != 1 {
		t.Errorf("expected a single module load under caching, got %d", srv.runtime.Opens())
	}
	if got := srv.stats.Replies(); got != clients {
		t.Errorf("expected %d counted replies, got %d", clients, got)
	}
}

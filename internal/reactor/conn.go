package reactor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Role tags which side of a request a watched descriptor belongs to
type Role int

const (
	// RoleClient descriptors speak HTTP with a remote peer
	RoleClient Role = iota + 1
	// RoleWorker descriptors speak the internal byte stream with an agent
	RoleWorker
)

// Conn is the bookkeeping record attached to every descriptor registered
// with the reactor. A worker-edge record holds a back-pointer to its paired
// client-edge record so both are reclaimed together when the response
// completes or fails; client-edge records never point forward.
//
// Records live in the reactor's registry from registration until the
// descriptor is removed; the descriptor itself is always closed separately
type Conn struct {
	role     Role
	id       string // correlates log lines for one connection
	clientFD int
	workerFD int   // -1 until a dynamic dispatch pairs one
	client   *Conn // back-pointer, worker-edge records only

	// Dynamic-request observability, carried on the client-edge record
	start time.Time
	ctx   context.Context
	span  trace.Span
}

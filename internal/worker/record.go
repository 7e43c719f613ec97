// Package worker implements the dynamic-content agent pool, the short-lived
// static workers and the fixed-size request record that the reactor writes
// to an agent over the internal dispatch connection.
package worker

import (
	"encoding/binary"
	"errors"
)

// Request classes carried in the record's discriminator field. The internal
// dispatch only ever sends dynamic requests; static requests are handed to
// an in-process worker together with the client descriptor
const (
	RequestDynamic int32 = 1
	RequestStatic  int32 = 2
)

// ResourceNameLen bounds the resource name buffer inside the record
const ResourceNameLen = 128

// RecordSize is the record's exact wire length: discriminator, client
// descriptor, NUL-padded resource name. The reactor writes it in one
// syscall; agents read exactly this many bytes
const RecordSize = 8 + ResourceNameLen

var (
	ErrResourceTooLong = errors.New("worker: resource name exceeds record buffer")
	ErrShortRecord     = errors.New("worker: truncated request record")
)

// Record is the fixed-size request message the reactor hands to a worker:
// over the internal dispatch socket for the dynamic class, in memory for
// the static class. ClientFD carries the descriptor a static worker serves;
// the dynamic path leaves it zero and writes the response onto the dispatch
// socket itself
type Record struct {
	Type     int32
	ClientFD int32
	Resource string
}

// Marshal encodes the record into its fixed wire form
func (r *Record) Marshal() ([]byte, error) {
	if len(r.Resource) >= ResourceNameLen {
		return nil, ErrResourceTooLong
	}

	buf := make([]byte, RecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Type))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.ClientFD))
	copy(buf[8:], r.Resource)
	return buf, nil
}

// UnmarshalRecord decodes one full record read off the dispatch socket
func UnmarshalRecord(buf []byte) (Record, error) {
	if len(buf) != RecordSize {
		return Record{}, ErrShortRecord
	}

	name := buf[8:]
	end := 0
	for end < len(name) && name[end] != 0 {
		end++
	}

	return Record{
		Type:     int32(binary.LittleEndian.Uint32(buf[0:4])),
		ClientFD: int32(binary.LittleEndian.Uint32(buf[4:8])),
		Resource: string(name[:end]),
	}, nil
}

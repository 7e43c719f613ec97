package worker

import (
	"strings"
	"testing"
)

// TestRecordRoundTrip verifies the fixed wire frame carries the record
// intact and is exactly RecordSize bytes
func TestRecordRoundTrip(t *testing.T) {
	in := Record{Type: RequestDynamic, ClientFD: 42, Resource: "echo"}

	frame, err := in.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if len(frame) != RecordSize {
		t.Fatalf("expected %d-byte frame, got %d", RecordSize, len(frame))
	}

	out, err := UnmarshalRecord(frame)
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("round trip changed record: %+v -> %+v", in, out)
	}
}

func TestRecordResourceTooLong(t *testing.T) {
	r := Record{Type: RequestDynamic, Resource: strings.Repeat("x", ResourceNameLen)}
	if _, err := r.Marshal(); err != ErrResourceTooLong {
		t.Errorf("expected ErrResourceTooLong, got %v", err)
	}
}

func TestUnmarshalShortRecord(t *testing.T) {
	if _, err := UnmarshalRecord(make([]byte, RecordSize-1)); err != ErrShortRecord {
		t.Errorf("expected ErrShortRecord, got %v", err)
	}
}

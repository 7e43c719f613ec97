// Package dynlibtest provides an in-process Runtime fake: "loading" a
// module reads its file, and the resolved entry function writes those
// bytes to the descriptor verbatim. A module file that contains a complete
// HTTP response therefore behaves exactly like a compiled shared object,
// without the tests needing a C toolchain.
package dynlibtest

import (
	"fmt"
	"os"
	"sync"

	"github.com/WillKirkmanM/dynamo/internal/dynlib"
	"github.com/WillKirkmanM/dynamo/internal/netutil"
)

// FakeRuntime implements dynlib.Runtime over plain files
type FakeRuntime struct {
	mu      sync.Mutex
	next    uintptr
	content map[dynlib.Handle][]byte

	opens    int
	resolves int
	closes   int
}

// NewFakeRuntime creates an empty fake
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		next:    1,
		content: make(map[dynlib.Handle][]byte),
	}
}

// Open reads the module file and captures its bytes as the module body
func (f *FakeRuntime) Open(path string) (dynlib.Handle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("dynlibtest: open %s: %w", path, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	h := dynlib.Handle(f.next)
	f.next++
	f.content[h] = data
	f.opens++
	return h, nil
}

// Resolve returns an entry function that writes the module body to fd
func (f *FakeRuntime) Resolve(h dynlib.Handle, symbol string) (dynlib.CGIFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if symbol != dynlib.EntrySymbol {
		return nil, fmt.Errorf("dynlibtest: unknown symbol %q", symbol)
	}
	data, ok := f.content[h]
	if !ok {
		return nil, fmt.Errorf("dynlibtest: resolve on released handle %d", h)
	}
	f.resolves++

	return func(fd int32) {
		netutil.WriteAll(int(fd), data)
	}, nil
}

// Close releases the handle. Releasing an unknown handle is an error so
// tests catch double releases
func (f *FakeRuntime) Close(h dynlib.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.content[h]; !ok {
		return fmt.Errorf("dynlibtest: close on unknown handle %d", h)
	}
	delete(f.content, h)
	f.closes++
	return nil
}

// Opens returns how many modules have been opened
func (f *FakeRuntime) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// Closes returns how many handles have been released
func (f *FakeRuntime) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

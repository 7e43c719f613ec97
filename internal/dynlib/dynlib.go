// Package dynlib wraps the platform's dynamic linker behind the minimal
// surface the module loader needs: open a shared object, resolve the fixed
// entry symbol, release the handle.
package dynlib

// EntrySymbol is the one symbol every dynamic module must export. It takes
// a writable descriptor and writes a complete HTTP/1.0 response to it,
// status line included
const EntrySymbol = "cgi_function"

// Handle identifies one open module within a Runtime
type Handle uintptr

// CGIFunc is the resolved module entry point
type CGIFunc func(fd int32)

// Runtime abstracts the native loader so the serving path and the tests can
// share the loader and cache machinery. The production implementation wraps
// dlopen/dlsym/dlclose; tests substitute an in-process fake
type Runtime interface {
	// Open loads the module at path and returns its handle
	Open(path string) (Handle, error)
	// Resolve looks up symbol in the module and returns it as a callable
	Resolve(h Handle, symbol string) (CGIFunc, error)
	// Close releases the handle. After Close the module's functions must
	// not be called
	Close(h Handle) error
}

package dynlib

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// nativeRuntime is the dlopen-backed Runtime used in production. Modules
// are ELF shared objects under the cgi-bin directory; lazy binding matches
// the original loader's behavior
type nativeRuntime struct{}

// NewRuntime returns the dlopen-backed runtime
func NewRuntime() Runtime {
	return nativeRuntime{}
}

func (nativeRuntime) Open(path string) (Handle, error) {
	h, err := purego.Dlopen(path, purego.RTLD_LAZY)
	if err != nil {
		return 0, fmt.Errorf("dynlib: open %s: %w", path, err)
	}
	return Handle(h), nil
}

func (nativeRuntime) Resolve(h Handle, symbol string) (CGIFunc, error) {
	sym, err := purego.Dlsym(uintptr(h), symbol)
	if err != nil {
		return nil, fmt.Errorf("dynlib: resolve %s: %w", symbol, err)
	}

	var fn CGIFunc
	purego.RegisterFunc(&fn, sym)
	return fn, nil
}

func (nativeRuntime) Close(h Handle) error {
	if err := purego.Dlclose(uintptr(h)); err != nil {
		return fmt.Errorf("dynlib: close: %w", err)
	}
	return nil
}

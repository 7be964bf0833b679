//go:build !cgo || (!linux && !darwin)

package hotkey

// New reports ErrUnsupported; the looper is still driven from its UI.
func New() (Manager, error) {
	return nil, ErrUnsupported
}

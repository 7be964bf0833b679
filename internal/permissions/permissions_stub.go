//go:build !darwin || !cgo

package permissions

import "github.com/rs/zerolog"

// EnsurePermissions is a no-op on non-macOS platforms.
func EnsurePermissions(log zerolog.Logger) error {
	return nil
}

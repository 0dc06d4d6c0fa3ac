//go:build unix

package console

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isResourceExhausted reports whether err is an accept error caused by
// running out of file descriptors or memory.
func isResourceExhausted(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE) || errors.Is(err, unix.ENOMEM)
}

//go:build !windows

package ui

import (
	"io"
	"os"
)

// OpenTTY opens the controlling terminal, so prompts work while stdin and
// stdout are redirected.
func OpenTTY() (io.ReadWriteCloser, error) {
	return os.OpenFile("/dev/tty", os.O_RDWR, 0)
}

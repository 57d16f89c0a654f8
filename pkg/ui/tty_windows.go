//go:build windows

package ui

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/windows"
)

type console struct {
	in  *os.File
	out *os.File
}

func (c *console) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *console) Write(p []byte) (int, error) { return c.out.Write(p) }
func (c *console) Close() error {
	err := c.in.Close()
	if err2 := c.out.Close(); err == nil {
		err = err2
	}
	return err
}

// OpenTTY opens the console input and output handles.
func OpenTTY() (io.ReadWriteCloser, error) {
	in, err := openHandle("CONIN$", windows.GENERIC_READ|windows.GENERIC_WRITE)
	if err != nil {
		return nil, err
	}
	out, err := openHandle("CONOUT$", windows.GENERIC_READ|windows.GENERIC_WRITE)
	if err != nil {
		_ = in.Close()
		return nil, err
	}
	return &console{in: in, out: out}, nil
}

func openHandle(name string, access uint32) (*os.File, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateFile(p, access, windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		return nil, err
	}
	f := os.NewFile(uintptr(h), name)
	if f == nil {
		return nil, errors.New("failed to create file from console handle")
	}
	return f, nil
}

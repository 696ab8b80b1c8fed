package shim

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"github.com/containerd/fifo"
)

func openFifo(ctx context.Context, path string, flag int) (io.ReadWriteCloser, error) {
	ok, err := fifo.IsFifo(path)
	if err != nil {
		return nil, fmt.Errorf("checking whether file %s is a fifo: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("file %s is not a fifo", path)
	}
	f, err := fifo.OpenFifo(ctx, path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("opening fifo %s: %w", path, err)
	}
	return f, nil
}

// connectStdio joins the interpreter's stdio to the task's fifos. An empty
// path leaves that stream unconnected. It must be called before cmd starts.
//
// The fifos are handed to cmd directly so that cmd.Wait only returns once
// all output has been copied. The returned func closes the fifos and is
// called after cmd.Wait, or instead of it when cmd never started.
func connectStdio(ctx context.Context, cmd *exec.Cmd, stdin, stdout, stderr string) (func(), error) {
	if stderr == "" {
		stderr = stdout
	}

	var opened []io.Closer
	cleanup := func() {
		for _, c := range opened {
			c.Close()
		}
	}

	streams := []struct {
		path string
		flag int
		set  func(io.ReadWriteCloser)
	}{
		{stdin, syscall.O_RDONLY, func(f io.ReadWriteCloser) { cmd.Stdin = f }},
		{stdout, syscall.O_WRONLY, func(f io.ReadWriteCloser) { cmd.Stdout = f }},
		{stderr, syscall.O_WRONLY, func(f io.ReadWriteCloser) { cmd.Stderr = f }},
	}
	for _, s := range streams {
		if s.path == "" {
			continue
		}
		f, err := openFifo(ctx, s.path, s.flag)
		if err != nil {
			cleanup()
			return nil, err
		}
		opened = append(opened, f)
		s.set(f)
	}
	return cleanup, nil
}

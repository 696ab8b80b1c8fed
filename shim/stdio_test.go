package shim

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/MarcinKonowalczyk/bfvm/utils"
)

// readFifo makes a fifo and drains it in the background until every writer
// has closed it.
func readFifo(t *testing.T, name string) (string, <-chan string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	utils.AssertNoError(t, syscall.Mkfifo(path, 0600))
	out := make(chan string, 1)
	go func() {
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			out <- "open: " + err.Error()
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		out <- string(data)
	}()
	return path, out
}

// runConnected runs script with its stdout joined to a fresh fifo, the way
// Create and reap do, and returns what came through.
func runConnected(t *testing.T, script string) string {
	t.Helper()
	ctx := context.Background()
	path, out := readFifo(t, "stdout")

	cmd := exec.Command("/bin/sh", "-c", script)
	cmd.WaitDelay = commandWaitDelay
	closeStdio, err := connectStdio(ctx, cmd, "", path, "")
	utils.AssertNoError(t, err)
	utils.AssertNoError(t, cmd.Start())
	utils.AssertNoError(t, cmd.Wait())
	closeStdio()
	return <-out
}

func TestConnectStdio_AllOutputArrives(t *testing.T) {
	for j := 0; j < 50; j++ {
		got := runConnected(t, `printf 'Hello World!\r\n'`)
		utils.AssertEqual(t, got, "Hello World!\r\n")
	}
}

func TestConnectStdio_LargeOutput(t *testing.T) {
	want := strings.Repeat("x\n", 30_000)
	for j := 0; j < 10; j++ {
		got := runConnected(t, "yes x | head -n 30000")
		utils.AssertEqual(t, len(got), len(want))
		utils.AssertEqual(t, got, want)
	}
}

func TestConnectStdio_Stdin(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	in := filepath.Join(dir, "stdin")
	utils.AssertNoError(t, syscall.Mkfifo(in, 0600))
	go func() {
		f, err := os.OpenFile(in, os.O_WRONLY, 0)
		if err != nil {
			return
		}
		f.WriteString("abc")
		f.Close()
	}()
	outPath, out := readFifo(t, "stdout")

	cmd := exec.Command("/bin/sh", "-c", "cat")
	cmd.WaitDelay = commandWaitDelay
	closeStdio, err := connectStdio(ctx, cmd, in, outPath, "")
	utils.AssertNoError(t, err)
	utils.AssertNoError(t, cmd.Start())
	utils.AssertNoError(t, cmd.Wait())
	closeStdio()
	utils.AssertEqual(t, <-out, "abc")
}

func TestConnectStdio_NotAFifo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	utils.AssertNoError(t, os.WriteFile(path, nil, 0644))
	cmd := exec.Command("/bin/true")
	_, err := connectStdio(context.Background(), cmd, "", path, "")
	utils.AssertError(t, err)
	utils.Assert(t, cmd.Stdout == nil, "stdout set despite the error")
}

func TestConnectStdio_CleanupWithoutStart(t *testing.T) {
	path, out := readFifo(t, "stdout")
	cmd := exec.Command("/nonexistent/interpreter")
	closeStdio, err := connectStdio(context.Background(), cmd, "", path, "")
	utils.AssertNoError(t, err)
	utils.AssertError(t, cmd.Start())
	// the reader only sees EOF once the shim has let go of the fifo
	closeStdio()
	select {
	case got := <-out:
		utils.AssertEqual(t, got, "")
	case <-time.After(5 * time.Second):
		t.Error("fifo still held open after cleanup")
	}
}

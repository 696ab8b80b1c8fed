package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarcinKonowalczyk/bfvm/cli"
	bf_shim "github.com/MarcinKonowalczyk/bfvm/shim"

	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/log"
)

// comptime override for debug flag
// set with `-ldflags="-X 'main.debug=true'"`
var debug string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if debug != "" {
		if err := log.SetLevel("debug"); err != nil {
			fmt.Fprintln(os.Stderr, "setting log level:", err)
		}
	}

	// The shim re-executes itself with the "brainfuck" argument to run the
	// task's program.
	brainfuck, args := isBrainfuckArg(os.Args[1:])
	if !brainfuck {
		shim.Run(ctx, bf_shim.NewManager(bf_shim.RuntimeName))
		return
	}

	err := cli.Run(ctx, args, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error running brainfuck:", err)
	}
	cancel()
	os.Exit(cli.ExitCode(err))
}

func isBrainfuckArg(args []string) (bool, []string) {
	for i, arg := range args {
		if arg == bf_shim.InterpreterArg {
			rest := make([]string, 0, len(args)-1)
			rest = append(rest, args[:i]...)
			return true, append(rest, args[i+1:]...)
		}
	}
	return false, args
}

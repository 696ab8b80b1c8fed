// Package cli is the brainfuck command shared by the standalone binary and
// the containerd shim.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/bfvm/bf"
	"github.com/MarcinKonowalczyk/bfvm/config"
)

// Exit codes of the brainfuck command
const (
	ExitOK          = 0
	ExitUsage       = 1
	ExitUnbalanced  = 2
	ExitOutOfBounds = 3
	ExitInterrupted = 130
)

// Run parses args, loads the program and runs it against stdin and stdout.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return fmt.Errorf("parsing flags: %w", errdefs.ErrInvalidArgument.WithMessage(err.Error()))
	}
	if flags.Debug {
		if err := log.SetLevel("debug"); err != nil {
			return err
		}
	}

	cfg, err := config.Load(ctx, flags, os.Getenv)
	if err != nil {
		return err
	}
	if cfg.Debug && !flags.Debug {
		if err := log.SetLevel("debug"); err != nil {
			return err
		}
	}

	if cfg.Strip {
		_, err := io.WriteString(stdout, bf.PreLex(cfg.Source)+"\n")
		return err
	}

	return bf.RunWithOptions(ctx, cfg.Source, stdin, stdout, bf.Options{
		TapeSize: cfg.TapeSize,
		CRLF:     cfg.CRLF,
	})
}

// ExitCode maps the result of Run to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, bf.ErrUnbalancedBrackets):
		return ExitUnbalanced
	case errors.Is(err, bf.ErrPointerOutOfBounds):
		return ExitOutOfBounds
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitUsage
	}
}

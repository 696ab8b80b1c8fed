package bf

import (
	"context"
	"io"
)

// Program is lexed source with its loops resolved, ready to run any number
// of times.
type Program struct {
	Commands []Command
	Jumps    *JumpTable
}

// Compile lexes the source and matches its brackets. Unbalanced brackets
// are reported here, before anything runs.
func Compile(source string) (*Program, error) {
	commands := Lex(source)
	jumps, err := Resolve(commands)
	if err != nil {
		return nil, err
	}
	return &Program{Commands: commands, Jumps: jumps}, nil
}

// NewInterpreter gives the program a fresh tape of the given size.
func (p *Program) NewInterpreter(tapeSize int, input io.Reader, output io.Writer) (*Interpreter, error) {
	tape, err := NewTape(tapeSize)
	if err != nil {
		return nil, err
	}
	return NewInterpreter(p.Commands, p.Jumps, tape, input, output), nil
}

type Options struct {
	// TapeSize defaults to DefaultTapeSize when zero
	TapeSize int
	// CRLF translates '\n' on output to "\r\n"
	CRLF bool
}

func RunWithOptions(ctx context.Context, source string, input io.Reader, output io.Writer, opts Options) error {
	program, err := Compile(source)
	if err != nil {
		return err
	}
	if opts.TapeSize == 0 {
		opts.TapeSize = DefaultTapeSize
	}
	if opts.CRLF && output != nil {
		output = NewCRLFWriter(output)
	}
	interpreter, err := program.NewInterpreter(opts.TapeSize, input, output)
	if err != nil {
		return err
	}
	return interpreter.RunContext(ctx)
}

func RunContext(ctx context.Context, source string, tapeSize int, input io.Reader, output io.Writer) error {
	return RunWithOptions(ctx, source, input, output, Options{TapeSize: tapeSize})
}

func Run(source string, tapeSize int, input io.Reader, output io.Writer) error {
	return RunContext(context.Background(), source, tapeSize, input, output)
}

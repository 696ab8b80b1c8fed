package bf

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/containerd/log"
)

type Interpreter struct {
	Program []Command
	Jumps   *JumpTable
	Input   io.Reader
	Output  io.Writer

	tape       *Tape
	programPtr int
	steps      uint64
	buf        [1]byte
}

func NewInterpreter(program []Command, jumps *JumpTable, tape *Tape, input io.Reader, output io.Writer) *Interpreter {
	return &Interpreter{
		Program: program,
		Jumps:   jumps,
		Input:   input,
		Output:  output,
		tape:    tape,
	}
}

func (i *Interpreter) Reset() {
	i.programPtr = 0
	i.steps = 0
	i.tape.Reset()
}

func (i *Interpreter) MemoryLength() int {
	return i.tape.Len()
}

// Index the memory
func (i *Interpreter) At(j int) uint8 {
	return i.tape.At(j)
}

func (i *Interpreter) Pointer() int {
	return i.tape.Pointer()
}

func (i *Interpreter) PC() int {
	return i.programPtr
}

// Steps is the number of instructions executed since the last reset.
func (i *Interpreter) Steps() uint64 {
	return i.steps
}

// read fills the current cell from the input. End of input leaves the cell
// as it was.
func (i *Interpreter) read() error {
	if i.Input == nil {
		return nil
	}
	if _, err := io.ReadFull(i.Input, i.buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("reading input at pc %d: %w", i.programPtr, err)
	}
	i.tape.Set(i.buf[0])
	return nil
}

func (i *Interpreter) write() error {
	if i.Output == nil {
		return nil
	}
	i.buf[0] = i.tape.Get()
	if _, err := i.Output.Write(i.buf[:]); err != nil {
		return fmt.Errorf("writing output at pc %d: %w", i.programPtr, err)
	}
	return nil
}

func (i *Interpreter) outOfBounds(c Command) error {
	ptr := i.tape.Pointer() + 1
	if c == Left {
		ptr = i.tape.Pointer() - 1
	}
	return &PointerOutOfBoundsError{
		PC:       i.programPtr,
		Pointer:  ptr,
		TapeSize: i.tape.Len(),
		Command:  c,
	}
}

// partner looks up the other bracket of the loop at the program counter.
// A table that does not belong to the program is reported as unbalanced.
func (i *Interpreter) partner(c Command, want Command) (int, error) {
	if i.Jumps != nil {
		if j, ok := i.Jumps.Match(i.programPtr); ok && j >= 0 && j < len(i.Program) && i.Program[j] == want {
			return j, nil
		}
	}
	return 0, &UnbalancedBracketsError{Position: i.programPtr, Bracket: c}
}

// step executes the command under the program counter and moves the
// counter on.
func (i *Interpreter) step() error {
	c := i.Program[i.programPtr]
	switch c {
	case Increment:
		i.tape.Increment()
	case Decrement:
		i.tape.Decrement()
	case Right:
		if !i.tape.Right() {
			return i.outOfBounds(c)
		}
	case Left:
		if !i.tape.Left() {
			return i.outOfBounds(c)
		}
	case Output:
		if err := i.write(); err != nil {
			return err
		}
	case Input:
		if err := i.read(); err != nil {
			return err
		}
	case LoopStart:
		if i.tape.Get() == 0 {
			end, err := i.partner(c, LoopEnd)
			if err != nil {
				return err
			}
			i.programPtr = end
		}
	case LoopEnd:
		if i.tape.Get() != 0 {
			// land on the '[' itself; its test is already known to pass
			start, err := i.partner(c, LoopStart)
			if err != nil {
				return err
			}
			i.programPtr = start
		}
	}
	i.programPtr++
	i.steps++
	return nil
}

// Run the program in a loop until it finishes, an error occurs or the
// context is cancelled
func (i *Interpreter) RunContext(ctx context.Context) error {
	logger := log.G(ctx).WithField("tape", i.tape.Len())
	logger.Debugf("running %d commands", len(i.Program))
	for i.programPtr < len(i.Program) {
		select {
		case <-ctx.Done():
			logger.WithField("pc", i.programPtr).Debug("run cancelled")
			return ctx.Err()
		default:
		}
		if err := i.step(); err != nil {
			logger.WithError(err).WithField("pc", i.programPtr).Debug("run halted")
			return err
		}
	}
	logger.WithField("steps", i.steps).Debug("run finished")
	return nil
}

func (i *Interpreter) Run() error {
	return i.RunContext(context.Background())
}

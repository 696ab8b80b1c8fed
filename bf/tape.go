package bf

import (
	"fmt"

	"github.com/containerd/errdefs"
)

const DefaultTapeSize = 65535

// Tape is a fixed run of unsigned byte cells with a pointer that never leaves it.
type Tape struct {
	cells []uint8
	ptr   int
}

func NewTape(size int) (*Tape, error) {
	if size <= 0 {
		return nil, fmt.Errorf("tape size %d: %w", size, errdefs.ErrInvalidArgument)
	}
	return &Tape{cells: make([]uint8, size)}, nil
}

func (t *Tape) Len() int {
	return len(t.cells)
}

func (t *Tape) Pointer() int {
	return t.ptr
}

func (t *Tape) Get() uint8 {
	return t.cells[t.ptr]
}

func (t *Tape) Set(v uint8) {
	t.cells[t.ptr] = v
}

// Increment and Decrement wrap modulo 256.
func (t *Tape) Increment() {
	t.cells[t.ptr]++
}

func (t *Tape) Decrement() {
	t.cells[t.ptr]--
}

// Right moves the pointer one cell up. It reports false, without moving,
// when that would fall off the end of the tape.
func (t *Tape) Right() bool {
	if t.ptr+1 >= len(t.cells) {
		return false
	}
	t.ptr++
	return true
}

// Left is the mirror of Right.
func (t *Tape) Left() bool {
	if t.ptr == 0 {
		return false
	}
	t.ptr--
	return true
}

// At reads a cell without moving the pointer. Out of range reads are zero.
func (t *Tape) At(j int) uint8 {
	if j < 0 || j >= len(t.cells) {
		return 0
	}
	return t.cells[j]
}

func (t *Tape) Reset() {
	t.ptr = 0
	for j := range t.cells {
		t.cells[j] = 0
	}
}

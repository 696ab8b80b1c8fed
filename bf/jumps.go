package bf

// JumpTable pairs every loop start with its loop end, in both directions.
type JumpTable struct {
	Forward  map[int]int
	Backward map[int]int
}

// Match returns the partner of the bracket at pc.
func (t *JumpTable) Match(pc int) (int, bool) {
	if end, ok := t.Forward[pc]; ok {
		return end, true
	}
	start, ok := t.Backward[pc]
	return start, ok
}

func (t *JumpTable) Len() int {
	return len(t.Forward)
}

// Resolve matches brackets in a single pass over the program using a stack
// of pending loop starts.
func Resolve(program []Command) (*JumpTable, error) {
	table := &JumpTable{
		Forward:  make(map[int]int),
		Backward: make(map[int]int),
	}
	var stack []int
	for pc, c := range program {
		switch c {
		case LoopStart:
			stack = append(stack, pc)
		case LoopEnd:
			if len(stack) == 0 {
				return nil, &UnbalancedBracketsError{Position: pc, Bracket: LoopEnd}
			}
			start := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			table.Forward[start] = pc
			table.Backward[pc] = start
		}
	}
	if len(stack) > 0 {
		return nil, &UnbalancedBracketsError{Position: stack[len(stack)-1], Bracket: LoopStart}
	}
	return table, nil
}

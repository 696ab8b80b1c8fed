package bf

// PreLex strips every byte that is not an instruction.
func PreLex(input string) string {
	result := make([]byte, 0, len(input))
	for j := 0; j < len(input); j++ {
		if parse(input[j]) != Ignore {
			result = append(result, input[j])
		}
	}
	return string(result)
}

type Lexer struct {
	chars string
}

func NewLexer(input string) *Lexer {
	return &Lexer{
		chars: input,
	}
}

type Command byte

const (
	Increment Command = '+'
	Decrement Command = '-'
	Left      Command = '<'
	Right     Command = '>'
	Output    Command = '.'
	Input     Command = ','
	LoopStart Command = '['
	LoopEnd   Command = ']'
	Ignore    Command = ' '
)

func parse(c byte) Command {
	switch c {
	case '+':
		return Increment
	case '-':
		return Decrement
	case '>':
		return Right
	case '<':
		return Left
	case '.':
		return Output
	case ',':
		return Input
	case '[':
		return LoopStart
	case ']':
		return LoopEnd
	default:
		return Ignore
	}
}

func (c Command) String() string {
	switch c {
	case Increment, Decrement, Left, Right, Output, Input, LoopStart, LoopEnd:
		return string(rune(c))
	default:
		return " "
	}
}

// Lex maps every byte of the source to a command. Comment bytes become
// Ignore so that command indices line up with byte offsets in the source.
func (l *Lexer) Lex() []Command {
	commands := make([]Command, len(l.chars))
	for j := 0; j < len(l.chars); j++ {
		commands[j] = parse(l.chars[j])
	}
	return commands
}

func Lex(input string) []Command {
	lexer := NewLexer(input)
	return lexer.Lex()
}

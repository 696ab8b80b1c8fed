// Package config turns command line flags, an optional TOML file and the
// environment into the two things the interpreter needs: program source
// and a tape size.
package config

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/bfvm/bf"
)

const (
	// MemoryEnv sets the tape size when neither a flag nor a config file does
	MemoryEnv = "BF_MEMORY"
	CRLFEnv   = "BF_CRLF"
)

// Flags holds the raw command line. Memory stays a string so that a bad
// value can fall back to the default instead of failing the parse.
type Flags struct {
	File   string
	Raw    string
	Memory string
	Config string
	CRLF   bool
	Strip  bool
	Debug  bool
}

func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("brainfuck", flag.ContinueOnError)
	fs.StringVar(&f.File, "file", "", "brainfuck source file")
	fs.StringVar(&f.File, "f", "", "shorthand for -file")
	fs.StringVar(&f.Raw, "raw", "", "brainfuck source code")
	fs.StringVar(&f.Raw, "r", "", "shorthand for -raw")
	fs.StringVar(&f.Memory, "memory", "", fmt.Sprintf("tape size in bytes (default %d)", bf.DefaultTapeSize))
	fs.StringVar(&f.Memory, "m", "", "shorthand for -memory")
	fs.StringVar(&f.Config, "config", "", "TOML config file")
	fs.BoolVar(&f.CRLF, "crlf", false, "write '\\n' as \"\\r\\n\"")
	fs.BoolVar(&f.Strip, "strip", false, "print the program without comments instead of running it")
	fs.BoolVar(&f.Debug, "debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// File is the layout of the TOML config file.
type File struct {
	File   string `toml:"file"`
	Raw    string `toml:"raw"`
	Memory int    `toml:"memory"`
	CRLF   bool   `toml:"crlf"`
	Debug  bool   `toml:"debug"`
}

func ReadFile(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return &f, nil
}

// Config is everything needed for a single run.
type Config struct {
	Source   string
	TapeSize int
	CRLF     bool
	Strip    bool
	Debug    bool
}

// Load merges flags over the config file over the environment. getenv may
// be nil, in which case the environment is not consulted.
func Load(ctx context.Context, flags *Flags, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	file := &File{}
	if flags.Config != "" {
		var err error
		if file, err = ReadFile(flags.Config); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		CRLF:  flags.CRLF || file.CRLF || truthy(getenv(CRLFEnv)),
		Strip: flags.Strip,
		Debug: flags.Debug || file.Debug,
	}

	switch {
	case flags.Memory != "":
		cfg.TapeSize = TapeSize(ctx, flags.Memory)
	case file.Memory != 0:
		cfg.TapeSize = TapeSize(ctx, strconv.Itoa(file.Memory))
	default:
		cfg.TapeSize = TapeSize(ctx, getenv(MemoryEnv))
	}

	var err error
	switch {
	case flags.File != "":
		cfg.Source, err = ReadSource(flags.File)
	case flags.Raw != "":
		cfg.Source = flags.Raw
	case file.File != "":
		cfg.Source, err = ReadSource(file.File)
	case file.Raw != "":
		cfg.Source = file.Raw
	default:
		err = fmt.Errorf("program must be provided with -file or -raw: %w", errdefs.ErrInvalidArgument)
	}
	if err != nil {
		return nil, err
	}
	log.G(ctx).WithField("memory", cfg.TapeSize).Debug("config loaded")
	return cfg, nil
}

// TapeSize parses a tape size. Empty, unparsable and non-positive values
// fall back to bf.DefaultTapeSize.
func TapeSize(ctx context.Context, s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return bf.DefaultTapeSize
	}
	size, err := strconv.Atoi(s)
	if err != nil || size <= 0 {
		log.G(ctx).Warnf("invalid memory size %q, using %d", s, bf.DefaultTapeSize)
		return bf.DefaultTapeSize
	}
	return size
}

// ReadSource reads a whole program file, trimmed of surrounding whitespace.
func ReadSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading program: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func truthy(s string) bool {
	v, err := strconv.ParseBool(s)
	return err == nil && v
}

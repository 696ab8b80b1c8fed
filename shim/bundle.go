package shim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/MarcinKonowalczyk/bfvm/config"
)

const configFilename = "config.json"

// Extensions accepted for the entrypoint of a task
var sourceExtensions = []string{".bf", ".b", ".brainfuck"}

// Bundle describes the program a task runs and how to run it.
type Bundle struct {
	Root       string
	Entrypoint string
	Path       []string
	// Memory is passed on verbatim; the interpreter falls back to its
	// default when it is empty or bad.
	Memory string
	// CRLF is on unless the task sets BF_CRLF=false; docker's log driver
	// otherwise staircases the output.
	CRLF bool
}

// ReadBundle reads config.json from the bundle directory.
func ReadBundle(dir string) (*Bundle, error) {
	data, err := os.ReadFile(filepath.Join(dir, configFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s: %w", configFilename, errdefs.ErrNotFound)
		}
		return nil, err
	}
	var spec specs.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configFilename, errdefs.ErrInvalidArgument.WithMessage(err.Error()))
	}
	return newBundle(&spec)
}

func newBundle(spec *specs.Spec) (*Bundle, error) {
	if spec.Root == nil || spec.Root.Path == "" {
		return nil, fmt.Errorf("root path not found in %s: %w", configFilename, errdefs.ErrInvalidArgument)
	}
	if spec.Process == nil {
		return nil, fmt.Errorf("process not found in %s: %w", configFilename, errdefs.ErrInvalidArgument)
	}
	if len(spec.Process.Args) != 1 {
		return nil, fmt.Errorf("expected a single program in the CMD, got %d args: %w", len(spec.Process.Args), errdefs.ErrInvalidArgument)
	}
	entrypoint := spec.Process.Args[0]
	if !isSource(entrypoint) {
		return nil, fmt.Errorf("entry point %s is not a brainfuck file: %w", entrypoint, errdefs.ErrInvalidArgument)
	}

	b := &Bundle{
		Root:       spec.Root.Path,
		Entrypoint: entrypoint,
		CRLF:       true,
	}
	for _, env := range spec.Process.Env {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		switch key {
		case "PATH":
			b.Path = strings.Split(value, ":")
		case config.MemoryEnv:
			b.Memory = value
		case config.CRLFEnv:
			if v, err := strconv.ParseBool(value); err == nil {
				b.CRLF = v
			}
		}
	}

	if _, err := os.Stat(b.FullPath()); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("program %s: %w", entrypoint, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("checking program %s: %w", entrypoint, err)
	}
	return b, nil
}

func isSource(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range sourceExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (b *Bundle) FullPath() string {
	return filepath.Join(b.Root, b.Entrypoint)
}

// Args is the command line of the interpreter, after InterpreterArg.
func (b *Bundle) Args() []string {
	args := []string{"-file", b.FullPath()}
	if b.Memory != "" {
		args = append(args, "-memory", b.Memory)
	}
	if b.CRLF {
		args = append(args, "-crlf")
	}
	return args
}

package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MarcinKonowalczyk/bfvm/bf"
	"github.com/MarcinKonowalczyk/bfvm/config"
	"github.com/MarcinKonowalczyk/bfvm/utils"
	"github.com/containerd/errdefs"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	utils.AssertNoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestTapeSize(t *testing.T) {
	ctx := context.Background()
	utils.AssertEqual(t, config.TapeSize(ctx, "30000"), 30000)
	utils.AssertEqual(t, config.TapeSize(ctx, " 12 "), 12)
	utils.AssertEqual(t, config.TapeSize(ctx, ""), bf.DefaultTapeSize)
	utils.AssertEqual(t, config.TapeSize(ctx, "lots"), bf.DefaultTapeSize)
	utils.AssertEqual(t, config.TapeSize(ctx, "0"), bf.DefaultTapeSize)
	utils.AssertEqual(t, config.TapeSize(ctx, "-5"), bf.DefaultTapeSize)
}

func TestParseFlags_Shorthands(t *testing.T) {
	flags, err := config.ParseFlags([]string{"-r", "+.", "-m", "10", "-crlf"})
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, flags.Raw, "+.")
	utils.AssertEqual(t, flags.Memory, "10")
	utils.Assert(t, flags.CRLF, "crlf not set")
}

func TestParseFlags_Unknown(t *testing.T) {
	_, err := config.ParseFlags([]string{"-nope"})
	utils.AssertError(t, err)
}

func TestLoad_Raw(t *testing.T) {
	flags := &config.Flags{Raw: "+."}
	cfg, err := config.Load(context.Background(), flags, nil)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, cfg.Source, "+.")
	utils.AssertEqual(t, cfg.TapeSize, bf.DefaultTapeSize)
}

func TestLoad_FileIsTrimmed(t *testing.T) {
	path := writeFile(t, "prog.bf", "\n\t+++.  \n")
	cfg, err := config.Load(context.Background(), &config.Flags{File: path}, nil)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, cfg.Source, "+++.")
}

func TestLoad_FileWinsOverRaw(t *testing.T) {
	path := writeFile(t, "prog.bf", "+")
	cfg, err := config.Load(context.Background(), &config.Flags{File: path, Raw: "-"}, nil)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, cfg.Source, "+")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(context.Background(), &config.Flags{File: filepath.Join(t.TempDir(), "nope.bf")}, nil)
	utils.AssertErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_NoProgram(t *testing.T) {
	_, err := config.Load(context.Background(), &config.Flags{}, nil)
	utils.Assert(t, errdefs.IsInvalidArgument(err), "missing program should be an invalid argument")
}

func TestLoad_BadMemoryFallsBack(t *testing.T) {
	cfg, err := config.Load(context.Background(), &config.Flags{Raw: "+", Memory: "big"}, nil)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, cfg.TapeSize, bf.DefaultTapeSize)
}

func TestLoad_Precedence(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "bf.toml", "raw = \"++\"\nmemory = 200\ncrlf = true\n")
	vars := env(map[string]string{config.MemoryEnv: "300"})

	cfg, err := config.Load(ctx, &config.Flags{Raw: "+", Memory: "100"}, vars)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, cfg.TapeSize, 100)

	cfg, err = config.Load(ctx, &config.Flags{Config: path}, vars)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, cfg.Source, "++")
	utils.AssertEqual(t, cfg.TapeSize, 200)
	utils.Assert(t, cfg.CRLF, "crlf from config file not set")

	cfg, err = config.Load(ctx, &config.Flags{Raw: "+"}, vars)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, cfg.TapeSize, 300)
}

func TestLoad_CRLFFromEnv(t *testing.T) {
	cfg, err := config.Load(context.Background(), &config.Flags{Raw: "+"}, env(map[string]string{config.CRLFEnv: "true"}))
	utils.AssertNoError(t, err)
	utils.Assert(t, cfg.CRLF, "crlf from env not set")
}

func TestLoad_BadConfigFile(t *testing.T) {
	path := writeFile(t, "bf.toml", "memory = \"not a number\"\n")
	_, err := config.Load(context.Background(), &config.Flags{Raw: "+", Config: path}, nil)
	utils.AssertError(t, err)
}

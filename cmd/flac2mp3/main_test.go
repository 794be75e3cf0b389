package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"flac2mp3/internal/config"
	"flac2mp3/internal/testsupport"
)

type cliEnv struct {
	cfg        *config.Config
	configPath string
	src        string
}

func setupCLI(t *testing.T, opts ...testsupport.ConfigOption) *cliEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithCodecStubs()}, opts...)...)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("XDG_STATE_HOME", "")

	env := &cliEnv{cfg: cfg, configPath: filepath.Join(base, "flac2mp3.toml"), src: filepath.Join(base, "src")}
	writeConfig(t, env.configPath, cfg)
	return env
}

func writeConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, env *cliEnv, stdin string, args ...string) (int, string, string) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	code := run(cmd, append([]string{"--config", env.configPath}, args...), &stderr)
	return code, stdout.String(), stderr.String()
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestTranscodeMirrorsTreeAndRecordsHistory(t *testing.T) {
	env := setupCLI(t)
	testsupport.WriteFLAC(t, filepath.Join(env.src, "album", "01.flac"), "one")
	testsupport.WriteFLAC(t, filepath.Join(env.src, "album", "02.flac"), "two")
	out := filepath.Join(testsupport.BaseDir(env.cfg), "mp3")

	code, _, stderr := runCLI(t, env, "", "-q", "-o", out, "-n", "2", env.src)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr=%q", code, stderr)
	}
	for _, name := range []string{"01.mp3", "02.mp3"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}

	code, stdout, stderr := runCLI(t, env, "", "history")
	if code != exitOK {
		t.Fatalf("history exit code = %d, stderr=%q", code, stderr)
	}
	requireContains(t, stdout, "completed")
}

func TestTranscodeReadsListFromStdin(t *testing.T) {
	env := setupCLI(t)
	input := filepath.Join(env.src, "track.flac")
	testsupport.WriteFLAC(t, input, "pcm")

	code, _, stderr := runCLI(t, env, input+"\n", "-q", "--no-history", "-f", "-")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr=%q", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(env.src, "track.mp3")); err != nil {
		t.Fatalf("expected output beside input: %v", err)
	}
}

func TestTranscodeFailureExitCode(t *testing.T) {
	env := setupCLI(t)
	testsupport.WriteFLAC(t, filepath.Join(env.src, testsupport.MarkerDecodeFail+".flac"), "x")

	code, _, _ := runCLI(t, env, "", "-q", "--no-history", env.src)
	if code != exitFailed {
		t.Fatalf("exit code = %d, want %d", code, exitFailed)
	}
}

func TestTranscodeMissingProgramsExitCode(t *testing.T) {
	env := setupCLI(t)
	env.cfg.Tools.Lame = filepath.Join(testsupport.BaseDir(env.cfg), "missing", "lame")
	writeConfig(t, env.configPath, env.cfg)
	testsupport.WriteFLAC(t, filepath.Join(env.src, "a.flac"), "x")

	code, _, stderr := runCLI(t, env, "", "-q", env.src)
	if code != exitSetup {
		t.Fatalf("exit code = %d, want %d", code, exitSetup)
	}
	requireContains(t, stderr, "missing required programs")
}

func TestTranscodeRequiresInputs(t *testing.T) {
	env := setupCLI(t)
	code, _, stderr := runCLI(t, env, "", "-q")
	if code != exitSetup {
		t.Fatalf("exit code = %d, want %d", code, exitSetup)
	}
	requireContains(t, stderr, "no inputs")
}

func TestTranscodeRejectsInvalidFlags(t *testing.T) {
	env := setupCLI(t)
	cases := [][]string{
		{"-q", "-V", "12", env.src},
		{"-q", "-n", "0", env.src},
		{"-q", "-c", "([", "-o", env.src + "-out", env.src},
		{"-q", "--bogus", env.src},
	}
	for _, args := range cases {
		if code, _, _ := runCLI(t, env, "", args...); code != exitSetup {
			t.Errorf("%v: exit code = %d, want %d", args, code, exitSetup)
		}
	}
}

func TestCheckCommand(t *testing.T) {
	env := setupCLI(t)
	code, stdout, stderr := runCLI(t, env, "", "check")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr=%q", code, stderr)
	}
	requireContains(t, stdout, "metaflac")
	requireContains(t, stdout, "All checks passed")
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLI(t)

	code, stdout, stderr := runCLI(t, env, "", "config", "validate")
	if code != exitOK {
		t.Fatalf("config validate exit code = %d, stderr=%q", code, stderr)
	}
	requireContains(t, stdout, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	code, stdout, stderr = runCLI(t, env, "", "config", "init", "--path", target)
	if code != exitOK {
		t.Fatalf("config init exit code = %d, stderr=%q", code, stderr)
	}
	requireContains(t, stdout, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	code, _, stderr = runCLI(t, env, "", "config", "init", "--path", target)
	if code != exitSetup {
		t.Fatalf("second init exit code = %d, want %d", code, exitSetup)
	}
	requireContains(t, stderr, "already exists")
}

package main

import (
	"bytes"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/chatbridge/config"
	"github.com/spf13/pflag"
)

func TestOverlayFlagsAndEnv(t *testing.T) {
	t.Setenv("CHATBRIDGE_BACKEND_EXECUTABLE", "node")
	t.Setenv("CHATBRIDGE_APPROVALS_AUTO_APPROVE_COMMANDS", "^ls$ ^pwd$")

	v := newViper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	bindConfigFlags(fs, v)
	if err := fs.Parse([]string{"--module", "agent.main", "--stop-grace", "3s", "--trace"}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Backend.WorkspacePath = "/from/file"
	if err := overlay(v, cfg); err != nil {
		t.Fatalf("overlay failed: %v", err)
	}
	if cfg.Backend.Executable != "node" || cfg.Backend.Module != "agent.main" {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Backend.StopGrace != 3*time.Second || !cfg.Trace {
		t.Errorf("stop grace = %v, trace = %v", cfg.Backend.StopGrace, cfg.Trace)
	}
	if want := []string{"^ls$", "^pwd$"}; !slices.Equal(cfg.Approvals.AutoApproveCommands, want) {
		t.Errorf("auto approve = %v, want %v", cfg.Approvals.AutoApproveCommands, want)
	}
	// Unset flags leave file values alone.
	if cfg.Backend.WorkspacePath != "/from/file" {
		t.Errorf("workspace = %q", cfg.Backend.WorkspacePath)
	}
	if got := cfg.Backend.Argv(); !slices.Equal(got, []string{"-u", "-m", "agent.main"}) {
		t.Errorf("argv = %v", got)
	}
}

func TestOverlayValidates(t *testing.T) {
	v := newViper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	bindConfigFlags(fs, v)
	fs.Parse([]string{"--stop-grace=-1s"})
	if err := overlay(v, config.Default()); err == nil {
		t.Error("negative stop grace accepted")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd(strings.NewReader(""), &out, &out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if got := out.String(); got != "chatbridge dev\n" {
		t.Errorf("version printed %q", got)
	}
}

func TestRootCommandLayout(t *testing.T) {
	root := newRootCmd(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	for _, name := range []string{"panel", "serve", "version"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("command %q missing", name)
		}
	}
	for _, flag := range []string{"panel", "plain", "style"} {
		if root.Flags().Lookup(flag) == nil {
			t.Errorf("root misses panel flag %q", flag)
		}
	}
	serve, _, _ := root.Find([]string{"serve"})
	for _, flag := range []string{"addr", "allow-origin"} {
		if serve.Flags().Lookup(flag) == nil {
			t.Errorf("serve misses flag %q", flag)
		}
	}
}

func TestIsTerminalRejectsPipes(t *testing.T) {
	if isTerminal(strings.NewReader("x")) {
		t.Error("a reader is not a terminal")
	}
}

package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestRootCmd_Flags(t *testing.T) {
	var got options
	cmd := newRootCmd(func(_ context.Context, o options, _ io.Writer) error {
		got = o
		return nil
	})
	cmd.SetArgs([]string{"--workspace", "ws-1", "--file", "catalogue.md", "--max-chars", "800", "--pause", "5s", "--dry-run"})
	cmd.SetOut(io.Discard)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got.workspace != "ws-1" || got.file != "catalogue.md" || got.maxChars != 800 {
		t.Errorf("unexpected options %+v", got)
	}
	if !got.dryRun || got.batchPause != 5*time.Second || got.batchSize != 10 || !got.notify {
		t.Errorf("unexpected options %+v", got)
	}
}

func TestRootCmd_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no workspace", []string{"--file", "a.md"}, "--workspace"},
		{"no file", []string{"--workspace", "ws-1"}, "--file"},
		{"tiny sections", []string{"--workspace", "ws-1", "--file", "a.md", "--max-chars", "10"}, "--max-chars"},
		{"bad batch", []string{"--workspace", "ws-1", "--file", "a.md", "--batch-size", "0"}, "--batch-size"},
		{"positional", []string{"--workspace", "ws-1", "--file", "a.md", "extra"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			cmd := newRootCmd(func(context.Context, options, io.Writer) error {
				called = true
				return nil
			})
			var stderr bytes.Buffer
			cmd.SetArgs(tt.args)
			cmd.SetOut(io.Discard)
			cmd.SetErr(&stderr)

			err := cmd.ExecuteContext(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
			if called {
				t.Error("run should not be called on invalid input")
			}
		})
	}
}

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "mimeflow.toml")
	body := fmt.Sprintf("[leaderboard]\npath = %q\n\n[observability]\nlog_level = \"error\"\n", filepath.Join(dir, "board.db"))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSynthReplayLeaderboard(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	take := filepath.Join(dir, "take.cbor")

	out, err := runCLI(t, "synth", "-o", take, "--frames", "30", "--lag", "0", "--jitter", "0", "--dropout", "0", "--clip", "wave")
	if err != nil {
		t.Fatalf("synth: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Wrote 60 frames") {
		t.Errorf("unexpected synth output %q", out)
	}

	out, err = runCLI(t, "--config", cfgPath, "replay", take, "--player", "ana")
	if err != nil {
		t.Fatalf("replay: %v\n%s", err, out)
	}
	for _, want := range []string{"Clip      wave", "Score     95%", "Entries   20", "Saved     yes"} {
		if !strings.Contains(out, want) {
			t.Errorf("replay output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, "--config", cfgPath, "leaderboard", "wave", "--json")
	if err != nil {
		t.Fatalf("leaderboard: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"playerName": "ana"`) {
		t.Errorf("leaderboard output missing player:\n%s", out)
	}

	out, err = runCLI(t, "--config", cfgPath, "leaderboard")
	if err != nil {
		t.Fatalf("leaderboard clips: %v\n%s", err, out)
	}
	if !strings.Contains(out, "wave") {
		t.Errorf("clip table missing clip:\n%s", out)
	}
}

func TestReplayMissingRecording(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	if _, err := runCLI(t, "--config", cfgPath, "replay", filepath.Join(dir, "nope.jsonl"), "--no-save"); err == nil {
		t.Error("expected error for missing recording")
	}
}

func TestConfigCommands(t *testing.T) {
	out, err := runCLI(t, "config", "defaults")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "eval_every = 3") {
		t.Errorf("defaults missing eval_every:\n%s", out)
	}

	if _, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "config", "show"); err == nil {
		t.Error("expected error for explicit missing config")
	}
}

func TestRenderTable(t *testing.T) {
	got := renderTable([]string{"A", "B"}, [][]string{{"x"}}, []columnAlignment{alignLeft, alignRight})
	if !strings.Contains(got, "A") || !strings.Contains(got, "x") {
		t.Errorf("unexpected table:\n%s", got)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Error("expected empty table without headers")
	}
}

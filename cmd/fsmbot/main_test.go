package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m3rciful/fsmbot/core/journal"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		configPath = ""
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "fsmbot dev") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCheckPrintsTransitionTable(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	out, err := execute(t, "check")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	for _, want := range []string{"initial: idle", "terminal: ended", "awaiting_command (choice) --default--> idle"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("telegram:\n  run_mode: carrier-pigeon\n  token: x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "check", "--config", bad); err == nil {
		t.Fatal("expected invalid run_mode to fail")
	}

	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("telegram:\n  token: x\nconversation:\n  max_chained_events: 8\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "check", "--config", good)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "max chained events: 8") {
		t.Fatalf("config limit not applied:\n%s", out)
	}
}

type stubJournal struct {
	instance string
	chat     int64
	limit    int
}

func (s *stubJournal) ByInstance(_ context.Context, id string) ([]journal.Entry, error) {
	s.instance = id
	return nil, nil
}

func (s *stubJournal) Rejections(_ context.Context, chat int64, limit int) ([]journal.Entry, error) {
	s.chat, s.limit = chat, limit
	return []journal.Entry{{
		InstanceID: "9a1f",
		ChatID:     chat,
		Kind:       "step",
		Event:      "text_received",
		FromState:  "idle",
		ToState:    "idle",
		Outcome:    "rejected",
		CreatedAt:  time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}}, nil
}

func TestReadJournalPicksQuery(t *testing.T) {
	t.Cleanup(func() { journalFlags.instance, journalFlags.chat, journalFlags.limit = "", 0, 20 })

	stub := &stubJournal{}
	journalFlags.chat, journalFlags.limit = 77, 5
	entries, err := readJournal(context.Background(), stub)
	if err != nil {
		t.Fatalf("readJournal: %v", err)
	}
	if stub.chat != 77 || stub.limit != 5 || stub.instance != "" {
		t.Fatalf("unexpected query: %+v", stub)
	}

	out := renderEntries(entries)
	for _, want := range []string{"outcome", "rejected", "9a1f", "2026-05-04 10:00:00"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}

	journalFlags.chat, journalFlags.instance = 0, "9a1f"
	if _, err := readJournal(context.Background(), stub); err != nil || stub.instance != "9a1f" {
		t.Fatalf("instance query not used: %v", err)
	}
	if renderEntries(nil) != "no journal entries" {
		t.Fatal("empty journal should say so")
	}
}

func TestJournalRequiresOneSelector(t *testing.T) {
	if _, err := execute(t, "journal"); err == nil {
		t.Fatal("expected missing selector error")
	}
}

package history

import (
	"path/filepath"
	"testing"

	"github.com/refit-bench/refit/internal/config"
)

func TestRecordAndRecent(t *testing.T) {
	db, err := Open(config.ResultsConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	attempts := []Attempt{
		{Solution: "claude", Model: "claude-sonnet-4.5", Layer: "whole_applications", App: "tribe", Conversion: "jakarta-to-quarkus", Stage: "converted", RunNum: 1, Outcome: "succeeded"},
		{Solution: "claude", Model: "claude-sonnet-4.5", Layer: "whole_applications", App: "tribe", Conversion: "jakarta-to-quarkus", Stage: "converted", RunNum: 2, Outcome: "failed", Detail: "exit status 1"},
		{Solution: "codex", Model: "gpt-5", Layer: "whole_applications", App: "tribe", Conversion: "jakarta-to-quarkus", Stage: "converted", RunNum: 1, Outcome: "timed_out"},
	}
	for _, a := range attempts {
		if err := Record(db, a); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := Recent(db, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(recent))
	}
	// Most recent first.
	if recent[0].Solution != "codex" || recent[0].Outcome != "timed_out" {
		t.Errorf("recent[0] = %+v", recent[0])
	}
	if recent[1].RunNum != 2 || recent[1].Detail != "exit status 1" {
		t.Errorf("recent[1] = %+v", recent[1])
	}
}

func TestReset(t *testing.T) {
	db, err := Open(config.ResultsConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if err := Record(db, Attempt{Solution: "claude", Stage: "converted", RunNum: 1, Outcome: "succeeded"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if err := Reset(db); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	recent, err := Recent(db, 10)
	if err != nil {
		t.Fatalf("Recent after reset: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("expected empty history after reset, got %d rows", len(recent))
	}
}

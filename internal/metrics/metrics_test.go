package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRegistryWritesPrometheusText(t *testing.T) {
	registry := &Registry{}
	registry.IncWalkStarted()
	registry.RecordWalk(12, 1500*time.Millisecond, nil)
	registry.RecordMatch("templates")
	registry.RecordMatch("templates")
	registry.RecordChange(`say "hi"`)
	registry.AddWatchers(2)
	registry.AddWatchers(-1)

	var out strings.Builder
	if err := registry.WritePrometheus(&out); err != nil {
		t.Fatalf("write: %v", err)
	}
	body := out.String()
	for _, want := range []string{
		"fswalk_walks_started_total 1",
		"fswalk_walks_completed_total 1",
		"fswalk_walks_failed_total 0",
		"fswalk_entries_total 12",
		"fswalk_walk_duration_seconds 1.500000",
		"fswalk_watchers 1",
		`fswalk_registration_matches_total{registration="templates"} 2`,
		`fswalk_registration_changes_total{registration="say \"hi\""} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in:\n%s", want, body)
		}
	}
}

func TestRegistryFailedWalk(t *testing.T) {
	registry := &Registry{}
	registry.RecordWalk(3, time.Millisecond, errors.New("boom"))
	var out strings.Builder
	_ = registry.WritePrometheus(&out)
	if !strings.Contains(out.String(), "fswalk_walks_failed_total 1") {
		t.Fatalf("expected failed walk, got:\n%s", out.String())
	}
	if registry.Matches("none") != 0 || registry.Changes("none") != 0 {
		t.Fatalf("expected zero counts for unknown registration")
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var registry *Registry
	registry.IncWalkStarted()
	registry.RecordWalk(1, time.Second, nil)
	registry.RecordMatch("a")
	registry.RecordChange("a")
	registry.AddWatchers(1)
	if registry.Matches("a") != 0 {
		t.Fatalf("expected nil registry to report zero")
	}
	if err := registry.WritePrometheus(&strings.Builder{}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

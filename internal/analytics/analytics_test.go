package analytics

import (
	"database/sql"
	"testing"

	"github.com/lucasnoah/fixloop/internal/db"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func exec(t *testing.T, conn *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := conn.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func insertRun(t *testing.T, c *sql.DB, id, status string, iterations int, reason, createdAt string) {
	t.Helper()
	exec(t, c, `INSERT INTO runs (run_id, repo, task, task_type, priority, status, iterations, max_iterations, hitl_reason, created_at, updated_at)
		VALUES (?, '/repo', 'fix', 'bugfix', 'standard', ?, ?, 5, ?, ?, ?)`, id, status, iterations, reason, createdAt, createdAt)
}

func insertEvent(t *testing.T, c *sql.DB, runID, stage string, ms int, ts string) {
	t.Helper()
	exec(t, c, `INSERT INTO run_events (run_id, stage, next_stage, iteration, escalated, duration_ms, timestamp)
		VALUES (?, ?, 'report', 0, 0, ?, ?)`, runID, stage, ms, ts)
}

func insertToolRun(t *testing.T, c *sql.DB, runID string, seq int, runType, status string) {
	t.Helper()
	exec(t, c, `INSERT INTO tool_runs (run_id, seq, run_type, command, status, duration_ms) VALUES (?, ?, ?, 'cmd', ?, 10)`,
		runID, seq, runType, status)
}

// --- QueryStageDurations ---

func TestQueryStageDurations(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	insertEvent(t, c, "r1", "verify", 1000, "2026-06-01T10:00:00Z")
	insertEvent(t, c, "r1", "verify", 3000, "2026-06-01T10:01:00Z")
	insertEvent(t, c, "r1", "scan", 200, "2026-06-01T09:59:00Z")

	results, err := QueryStageDurations(d, "")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(results))
	}
	if results[0].Stage != "scan" || results[1].Stage != "verify" {
		t.Errorf("unexpected order %+v", results)
	}
	v := results[1]
	if v.Count != 2 || v.Avg != 2.0 || v.P50 != 2.0 {
		t.Errorf("verify stats = %+v", v)
	}
	if v.P95 != 2.9 {
		t.Errorf("P95 = %v, want 2.9", v.P95)
	}
}

func TestQueryStageDurations_Since(t *testing.T) {
	d := testDB(t)
	c := d.Conn()
	insertEvent(t, c, "r1", "verify", 1000, "2026-01-01T00:00:00Z")
	insertEvent(t, c, "r2", "verify", 5000, "2026-06-01T00:00:00Z")

	results, err := QueryStageDurations(d, "2026-03-01T00:00:00Z")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(results) != 1 || results[0].Count != 1 || results[0].Avg != 5.0 {
		t.Errorf("unexpected %+v", results)
	}
}

func TestQueryStageDurations_Empty(t *testing.T) {
	d := testDB(t)
	results, err := QueryStageDurations(d, "")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

// --- QueryOutcomes ---

func TestQueryOutcomes(t *testing.T) {
	d := testDB(t)
	c := d.Conn()
	insertRun(t, c, "r1", "success", 1, "", "2026-06-01T00:00:00Z")
	insertRun(t, c, "r2", "success", 2, "", "2026-06-01T00:00:00Z")
	insertRun(t, c, "r3", "stopped_for_review", 5, "max iterations reached", "2026-06-01T00:00:00Z")
	insertRun(t, c, "r4", "failed", 0, "", "2026-06-01T00:00:00Z")

	results, err := QueryOutcomes(d, "")
	if err != nil {
		t.Fatalf("QueryOutcomes: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(results))
	}
	if results[0].Status != "success" || results[0].Count != 2 || results[0].Pct != 50 || results[0].AvgIterations != 1.5 {
		t.Errorf("unexpected success outcome %+v", results[0])
	}
	if results[1].Status != "failed" || results[2].Status != "stopped_for_review" {
		t.Errorf("ties should sort by status: %+v", results)
	}
}

// --- QueryEscalationReasons ---

func TestQueryEscalationReasons(t *testing.T) {
	d := testDB(t)
	c := d.Conn()
	insertRun(t, c, "r1", "stopped_for_review", 5, "max iterations reached", "2026-06-01T00:00:00Z")
	insertRun(t, c, "r2", "stopped_for_review", 5, "max iterations reached", "2026-06-01T00:00:00Z")
	insertRun(t, c, "r3", "stopped_for_review", 1, "safety gate: sensitive files touched", "2026-06-01T00:00:00Z")
	insertRun(t, c, "r4", "success", 1, "", "2026-06-01T00:00:00Z")

	results, err := QueryEscalationReasons(d, "", 0)
	if err != nil {
		t.Fatalf("QueryEscalationReasons: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 reasons, got %d", len(results))
	}
	if results[0].Reason != "max iterations reached" || results[0].Count != 2 {
		t.Errorf("unexpected top reason %+v", results[0])
	}

	top, err := QueryEscalationReasons(d, "", 1)
	if err != nil {
		t.Fatalf("QueryEscalationReasons: %v", err)
	}
	if len(top) != 1 {
		t.Errorf("expected limit 1, got %d", len(top))
	}
}

// --- QueryToolRunRates ---

func TestQueryToolRunRates(t *testing.T) {
	d := testDB(t)
	c := d.Conn()
	insertRun(t, c, "r1", "success", 1, "", "2026-06-01T00:00:00Z")
	insertToolRun(t, c, "r1", 0, "test", "fail")
	insertToolRun(t, c, "r1", 1, "test", "success")
	insertToolRun(t, c, "r1", 2, "test", "timeout")
	insertToolRun(t, c, "r1", 3, "test", "error")
	insertToolRun(t, c, "r1", 4, "lint", "success")

	results, err := QueryToolRunRates(d, "")
	if err != nil {
		t.Fatalf("QueryToolRunRates: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 run types, got %d", len(results))
	}
	if results[0].RunType != "lint" || results[0].SuccessPct != 100 {
		t.Errorf("unexpected lint rate %+v", results[0])
	}
	tr := results[1]
	if tr.Total != 4 || tr.SuccessPct != 25 || tr.FailPct != 25 || tr.TimeoutPct != 25 || tr.ErrorPct != 25 {
		t.Errorf("unexpected test rate %+v", tr)
	}
}

// --- helpers ---

func TestPercentile(t *testing.T) {
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("percentile(nil) = %v", got)
	}
	if got := percentile([]float64{1, 2, 3, 4}, 50); got != 2.5 {
		t.Errorf("percentile = %v, want 2.5", got)
	}
	if got := pct(1, 3); got != 33.3 {
		t.Errorf("pct = %v, want 33.3", got)
	}
}

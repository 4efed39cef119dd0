// Package analytics summarises the audit database across runs.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
	Rebind(query string) string
}

// StageDuration holds duration stats for a stage.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// QueryStageDurations returns average and percentile durations per stage.
// since is an RFC 3339 UTC timestamp; "" means all time.
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	query := `SELECT stage, duration_ms FROM run_events`
	var args []any
	if since != "" {
		query += ` WHERE timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	stageDurations := make(map[string][]float64)
	for rows.Next() {
		var stage string
		var ms int64
		if err := rows.Scan(&stage, &ms); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		stageDurations[stage] = append(stageDurations[stage], float64(ms)/1000)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageDuration
	for stage, durations := range stageDurations {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// Outcome counts runs per final status.
type Outcome struct {
	Status        string  `json:"status"`
	Count         int     `json:"count"`
	Pct           float64 `json:"pct"`
	AvgIterations float64 `json:"avg_iterations"`
}

// QueryOutcomes returns the distribution of run statuses.
func QueryOutcomes(database DB, since string) ([]Outcome, error) {
	query := `SELECT status, iterations FROM runs`
	var args []any
	if since != "" {
		query += ` WHERE created_at >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	iterations := make(map[string][]float64)
	total := 0
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		iterations[status] = append(iterations[status], float64(n))
		total++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []Outcome
	for status, its := range iterations {
		results = append(results, Outcome{
			Status:        status,
			Count:         len(its),
			Pct:           pct(len(its), total),
			AvgIterations: avg(its),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Status < results[j].Status
	})
	return results, nil
}

// ReasonCount counts escalations by reason.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// QueryEscalationReasons returns the most frequent HITL reasons, limited to top.
func QueryEscalationReasons(database DB, since string, top int) ([]ReasonCount, error) {
	query := `SELECT hitl_reason, COUNT(*) AS n FROM runs WHERE hitl_reason IS NOT NULL AND hitl_reason != ''`
	var args []any
	if since != "" {
		query += ` AND created_at >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY hitl_reason ORDER BY n DESC, hitl_reason`
	if top > 0 {
		query += ` LIMIT ?`
		args = append(args, top)
	}

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query escalation reasons: %w", err)
	}
	defer rows.Close()

	var results []ReasonCount
	for rows.Next() {
		var rc ReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return nil, fmt.Errorf("scan escalation reason: %w", err)
		}
		results = append(results, rc)
	}
	return results, rows.Err()
}

// ToolRunRate holds outcome rates for one run type.
type ToolRunRate struct {
	RunType    string  `json:"run_type"`
	Total      int     `json:"total"`
	SuccessPct float64 `json:"success_pct"`
	FailPct    float64 `json:"fail_pct"`
	TimeoutPct float64 `json:"timeout_pct"`
	ErrorPct   float64 `json:"error_pct"`
}

// QueryToolRunRates returns outcome percentages per run type.
func QueryToolRunRates(database DB, since string) ([]ToolRunRate, error) {
	query := `
		SELECT tr.run_type,
			COUNT(*) AS total,
			SUM(CASE WHEN tr.status = 'success' THEN 1 ELSE 0 END),
			SUM(CASE WHEN tr.status = 'fail' THEN 1 ELSE 0 END),
			SUM(CASE WHEN tr.status = 'timeout' THEN 1 ELSE 0 END),
			SUM(CASE WHEN tr.status = 'error' THEN 1 ELSE 0 END)
		FROM tool_runs tr
		JOIN runs r ON r.run_id = tr.run_id`
	var args []any
	if since != "" {
		query += ` WHERE r.created_at >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY tr.run_type ORDER BY tr.run_type`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query tool run rates: %w", err)
	}
	defer rows.Close()

	var results []ToolRunRate
	for rows.Next() {
		var rt string
		var total, success, fail, timeout, errs int
		if err := rows.Scan(&rt, &total, &success, &fail, &timeout, &errs); err != nil {
			return nil, fmt.Errorf("scan tool run rate: %w", err)
		}
		results = append(results, ToolRunRate{
			RunType:    rt,
			Total:      total,
			SuccessPct: pct(success, total),
			FailPct:    pct(fail, total),
			TimeoutPct: pct(timeout, total),
			ErrorPct:   pct(errs, total),
		})
	}
	return results, rows.Err()
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}

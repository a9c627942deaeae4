package domain

import "fmt"

// TechDebtItem describes one remediation task and its effect on metrics.
type TechDebtItem struct {
	Addressed       bool    `json:"addressed" yaml:"addressed"`
	Spend           float64 `json:"spend" yaml:"spend"`
	Defined         float64 `json:"defined" yaml:"defined"`
	LinesChanged    int     `json:"lines_changed" yaml:"lines_changed"`
	DebtMaintain    float64 `json:"debt_maintain" yaml:"debt_maintain"`
	RemediationTime float64 `json:"remediation_time" yaml:"remediation_time"`
	Last            bool    `json:"last" yaml:"last"`
	ID              int     `json:"id" yaml:"id"`
}

// ProjectMetrics is a code-health snapshot.
type ProjectMetrics struct {
	LinesOfCode     float64 `json:"lines_of_code"`
	Lines           float64 `json:"lines"`
	Statements      float64 `json:"statements"`
	Functions       float64 `json:"functions"`
	Classes         float64 `json:"classes"`
	Files           float64 `json:"files"`
	Comments        float64 `json:"comments"`
	Cyclomatic      float64 `json:"cyclomatic"`
	Cognitive       float64 `json:"cognitive"`
	Issues          float64 `json:"issues"`
	DuplLines       float64 `json:"dupl_lines"`
	DuplBlocks      float64 `json:"dupl_blocks"`
	DebtMaintain    float64 `json:"debt_maintain"`
	RateMaintain    float64 `json:"rate_maintain"`
	Vulnerabilities float64 `json:"vulnerabilities"`
	RateSec         float64 `json:"rate_sec"`
	RemEffSec       float64 `json:"rem_eff_sec"`
	Bugs            float64 `json:"bugs"`
	RateReliable    float64 `json:"rate_reliable"`
	RemEffRel       float64 `json:"rem_eff_rel"`
	NewLines        float64 `json:"new_lines"`
}

// MetricsFieldCount is the number of values in a ProjectMetrics tuple.
const MetricsFieldCount = 21

// ItemFieldCount is the number of values in a TechDebtItem tuple.
const ItemFieldCount = 8

// MetricsFromValues builds ProjectMetrics from its ordered 21-value tuple.
func MetricsFromValues(v []float64) (ProjectMetrics, error) {
	if len(v) != MetricsFieldCount {
		return ProjectMetrics{}, fmt.Errorf("metrics tuple has %d values, want %d", len(v), MetricsFieldCount)
	}
	return ProjectMetrics{
		LinesOfCode: v[0], Lines: v[1], Statements: v[2], Functions: v[3], Classes: v[4],
		Files: v[5], Comments: v[6], Cyclomatic: v[7], Cognitive: v[8], Issues: v[9],
		DuplLines: v[10], DuplBlocks: v[11], DebtMaintain: v[12], RateMaintain: v[13],
		Vulnerabilities: v[14], RateSec: v[15], RemEffSec: v[16], Bugs: v[17],
		RateReliable: v[18], RemEffRel: v[19], NewLines: v[20],
	}, nil
}

// MetricNames labels Values by position.
var MetricNames = [MetricsFieldCount]string{
	"lines_of_code", "lines", "statements", "functions", "classes",
	"files", "comments", "cyclomatic", "cognitive", "issues",
	"dupl_lines", "dupl_blocks", "debt_maintain", "rate_maintain",
	"vulnerabilities", "rate_sec", "rem_eff_sec", "bugs",
	"rate_reliable", "rem_eff_rel", "new_lines",
}

// Values returns the metrics in tuple order.
func (m ProjectMetrics) Values() []float64 {
	return []float64{
		m.LinesOfCode, m.Lines, m.Statements, m.Functions, m.Classes,
		m.Files, m.Comments, m.Cyclomatic, m.Cognitive, m.Issues,
		m.DuplLines, m.DuplBlocks, m.DebtMaintain, m.RateMaintain,
		m.Vulnerabilities, m.RateSec, m.RemEffSec, m.Bugs,
		m.RateReliable, m.RemEffRel, m.NewLines,
	}
}

// ItemFromRow decodes an (addressed, spend, defined, lines_changed,
// debt_maintain, remediation_time, last, id) tuple.
func ItemFromRow(row []any) (TechDebtItem, error) {
	if len(row) != ItemFieldCount {
		return TechDebtItem{}, fmt.Errorf("item tuple has %d values, want %d", len(row), ItemFieldCount)
	}
	var (
		td  TechDebtItem
		err error
	)
	if td.Addressed, err = asBool(row[0], "addressed"); err != nil {
		return td, err
	}
	if td.Spend, err = asNumber(row[1], "spend"); err != nil {
		return td, err
	}
	if td.Defined, err = asNumber(row[2], "defined"); err != nil {
		return td, err
	}
	lines, err := asNumber(row[3], "lines_changed")
	if err != nil {
		return td, err
	}
	if lines != float64(int(lines)) {
		return td, fmt.Errorf("lines_changed must be an integer, got %v", lines)
	}
	td.LinesChanged = int(lines)
	if td.DebtMaintain, err = asNumber(row[4], "debt_maintain"); err != nil {
		return td, err
	}
	if td.RemediationTime, err = asNumber(row[5], "remediation_time"); err != nil {
		return td, err
	}
	if td.Last, err = asBool(row[6], "last"); err != nil {
		return td, err
	}
	id, err := asNumber(row[7], "id")
	if err != nil {
		return td, err
	}
	if id != float64(int(id)) {
		return td, fmt.Errorf("id must be an integer, got %v", id)
	}
	td.ID = int(id)
	return td, nil
}

func asBool(v any, field string) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: expected bool, got %T", field, v)
	}
	return b, nil
}

func asNumber(v any, field string) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%s: expected number, got %T", field, v)
	}
}

// Sweep is one recorded rollout sweep over a dataset.
type Sweep struct {
	ID                string  `json:"id"`
	Dataset           string  `json:"dataset"`
	MaxSimulations    int     `json:"max_simulations"`
	ExplorationWeight float64 `json:"exploration_weight"`
	Seed              int64   `json:"seed"`
	Runs              []Run   `json:"runs,omitempty"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
}

// Run is the outcome of one simulation count inside a sweep.
type Run struct {
	Simulations int     `json:"simulations"`
	Order       []int   `json:"order"`
	Reward      float64 `json:"reward"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

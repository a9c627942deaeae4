package server

import (
	"encoding/json"

	"tdprio/internal/catalog"
	"tdprio/internal/domain"
	"tdprio/internal/engine"
)

// Request payloads

type EvaluatePlanRequest struct {
	Dataset string `json:"dataset,omitempty" example:"default"`
	Order   []int  `json:"order" minItems:"1" doc:"Item indices in the order they are addressed" example:"[0,1,2,3]"`
}

type RunSweepRequest struct {
	Dataset           string  `json:"dataset,omitempty" example:"medium"`
	MaxSimulations    int     `json:"max_simulations,omitempty" minimum:"0" maximum:"1000"`
	ExplorationWeight float64 `json:"exploration_weight,omitempty" minimum:"0"`
	Seed              *int64  `json:"seed,omitempty"`
	Parallelism       int     `json:"parallelism,omitempty" minimum:"0" maximum:"256"`
}

// Responses

type DatasetSummary struct {
	Name       string  `json:"name"`
	Items      int     `json:"items"`
	Lines      float64 `json:"lines"`
	Issues     float64 `json:"issues"`
	OpenEffort float64 `json:"open_reliability_effort"`
}

type DatasetResponse struct {
	Name    string                `json:"name"`
	Items   []domain.TechDebtItem `json:"items"`
	Metrics domain.ProjectMetrics `json:"metrics"`
}

type PlanResponse struct {
	Dataset string                `json:"dataset"`
	Order   []int                 `json:"order"`
	IDs     []int                 `json:"ids" doc:"Item ids in the order they were addressed"`
	Metrics domain.ProjectMetrics `json:"metrics"`
	Reward  float64               `json:"reward"`
}

type RunResponse struct {
	Simulations int     `json:"simulations"`
	Order       []int   `json:"order"`
	Reward      float64 `json:"reward"`
}

type SweepResponse struct {
	ID                string        `json:"id"`
	Dataset           string        `json:"dataset"`
	MaxSimulations    int           `json:"max_simulations"`
	ExplorationWeight float64       `json:"exploration_weight"`
	Seed              int64         `json:"seed"`
	CreatedAt         string        `json:"created_at" format:"date-time"`
	Runs              []RunResponse `json:"runs,omitempty"`
	Best              *RunResponse  `json:"best,omitempty"`
}

type TrendResponse struct {
	SweepID     string  `json:"sweep_id"`
	Simulations []int   `json:"simulations"`
	Positions   [][]int `json:"positions" doc:"positions[k][j] is the id addressed k-th in run j"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type listDatasets struct {
	Items []DatasetSummary `json:"items"`
}

type listSweeps struct {
	Items []SweepResponse `json:"items"`
}

type listEvents struct {
	Items []EventResponse `json:"items"`
}

func datasetSummary(d catalog.Dataset) DatasetSummary {
	var effort float64
	for _, td := range d.Items {
		effort += td.RemediationTime
	}
	return DatasetSummary{
		Name:       d.Name,
		Items:      len(d.Items),
		Lines:      d.Metrics.Lines,
		Issues:     d.Metrics.Issues,
		OpenEffort: effort,
	}
}

func datasetResponse(d catalog.Dataset) DatasetResponse {
	return DatasetResponse{Name: d.Name, Items: nonNilSlice(d.Items), Metrics: d.Metrics}
}

func planResponse(p engine.PlanResult) PlanResponse {
	return PlanResponse{
		Dataset: p.Dataset,
		Order:   nonNilSlice(p.Order),
		IDs:     nonNilSlice(p.IDs),
		Metrics: p.Metrics,
		Reward:  p.Reward,
	}
}

func runResponse(r domain.Run) RunResponse {
	return RunResponse{Simulations: r.Simulations, Order: nonNilSlice(r.Order), Reward: r.Reward}
}

// sweepResponse maps a sweep; header-only sweeps (from listings) carry no runs.
func sweepResponse(s domain.Sweep) SweepResponse {
	resp := SweepResponse{
		ID:                s.ID,
		Dataset:           s.Dataset,
		MaxSimulations:    s.MaxSimulations,
		ExplorationWeight: s.ExplorationWeight,
		Seed:              s.Seed,
		CreatedAt:         s.CreatedAt,
	}
	for i, r := range s.Runs {
		run := runResponse(r)
		resp.Runs = append(resp.Runs, run)
		if i == 0 || run.Reward > resp.Best.Reward {
			best := run
			resp.Best = &best
		}
	}
	return resp
}

func trendResponse(t engine.Trend) TrendResponse {
	return TrendResponse{
		SweepID:     t.SweepID,
		Simulations: nonNilSlice(t.Simulations),
		Positions:   nonNilSlice(t.Positions),
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{"raw": raw}
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

// Package board derives the renderable kanban structure from the
// current pipeline items. Projection is pure: it is recomputed whenever
// items, filters, or the viewing role change, and column counts always
// come from the same filtered set as the cards.
package board

import (
	"strings"
	"time"

	"fitline/internal/domain"
	"fitline/internal/policy"
	"fitline/internal/stage"
)

// Card is the per-item visual projection. The card set is kept 1:1 with
// pipeline items by id; after a committed transition card column and
// item stage must agree.
type Card struct {
	ID           string      `json:"id"`
	Column       stage.Stage `json:"column"`
	Reference    string      `json:"reference"`
	CustomerName string      `json:"customer_name"`
	Salesperson  string      `json:"salesperson"`
	JobType      string      `json:"job_type,omitempty"`
	Value        float64     `json:"value,omitempty"`
	DaysInStage  int         `json:"days_in_stage"`
}

// Column is one rendered kanban lane.
type Column struct {
	Stage stage.Stage      `json:"stage"`
	Attrs stage.Attributes `json:"attrs"`
	Cards []Card           `json:"cards"`
	Count int              `json:"count"`
}

// Filters are conjunctive board predicates. Zero values mean "no
// constraint" for their field.
type Filters struct {
	Query       string
	Salesperson string
	Stage       stage.Stage
	JobType     string
	MeasureFrom time.Time
	MeasureTo   time.Time
}

// CardFor projects one item into its card.
func CardFor(item domain.PipelineItem, now time.Time) Card {
	return Card{
		ID:           item.ID,
		Column:       item.Stage,
		Reference:    item.Reference,
		CustomerName: item.CustomerName,
		Salesperson:  item.Salesperson,
		JobType:      item.JobType,
		Value:        item.Value,
		DaysInStage:  item.DaysInStage(now),
	}
}

// Cards projects every item, preserving feed order.
func Cards(items []domain.PipelineItem, now time.Time) []Card {
	out := make([]Card, 0, len(items))
	for _, it := range items {
		out = append(out, CardFor(it, now))
	}
	return out
}

// Project buckets items into one column per stage visible to the role,
// after applying the filters.
func Project(items []domain.PipelineItem, role policy.Role, f Filters, now time.Time) []Column {
	visible := policy.VisibleStages(role)
	byStage := make(map[stage.Stage][]Card, len(visible))
	for _, it := range items {
		if !Matches(it, f) {
			continue
		}
		byStage[it.Stage] = append(byStage[it.Stage], CardFor(it, now))
	}
	cols := make([]Column, 0, len(visible))
	for _, s := range visible {
		cards := byStage[s]
		cols = append(cols, Column{
			Stage: s,
			Attrs: stage.Attrs(s),
			Cards: cards,
			Count: len(cards),
		})
	}
	return cols
}

// Matches evaluates all active predicates against one item.
func Matches(item domain.PipelineItem, f Filters) bool {
	if q := strings.TrimSpace(f.Query); q != "" && !textMatch(item, q) {
		return false
	}
	if f.Salesperson != "" && !strings.EqualFold(item.Salesperson, f.Salesperson) {
		return false
	}
	if f.Stage != "" && item.Stage != f.Stage {
		return false
	}
	if f.JobType != "" && !strings.EqualFold(item.JobType, f.JobType) {
		return false
	}
	if !f.MeasureFrom.IsZero() || !f.MeasureTo.IsZero() {
		md, err := time.Parse("2006-01-02", item.MeasureDate)
		if err != nil {
			return false
		}
		if !f.MeasureFrom.IsZero() && md.Before(f.MeasureFrom) {
			return false
		}
		if !f.MeasureTo.IsZero() && md.After(f.MeasureTo) {
			return false
		}
	}
	return true
}

func textMatch(item domain.PipelineItem, q string) bool {
	q = strings.ToLower(q)
	for _, field := range []string{item.CustomerName, item.Address, item.Phone, item.Reference} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

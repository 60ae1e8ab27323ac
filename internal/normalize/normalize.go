// Package normalize flattens the heterogeneous pipeline feed into
// uniform pipeline items. The feed is best-effort telemetry: malformed
// records are dropped, unknown stages are coerced, and work items with a
// missing payload degrade to plain customer entries.
package normalize

import (
	"strings"
	"time"

	"fitline/internal/domain"
	"fitline/internal/stage"
)

const referenceSuffixLen = 6

// Items converts the raw feed into pipeline items. Records without a
// nested customer object are skipped.
func Items(raw []domain.RawRecord) []domain.PipelineItem {
	items := make([]domain.PipelineItem, 0, len(raw))
	for _, rec := range raw {
		if rec.Customer == nil {
			continue
		}
		item, ok := one(rec)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items
}

func one(rec domain.RawRecord) (domain.PipelineItem, bool) {
	if strings.EqualFold(strings.TrimSpace(rec.Type), "customer") {
		return customerItem(rec), true
	}

	// The server is allowed to deliver the work item under either key.
	work := rec.Job
	if work == nil {
		work = rec.Project
	}
	if work == nil {
		// Load-bearing fallback: a work-item record with no payload
		// still surfaces as a customer card instead of a broken item.
		return customerItem(rec), true
	}
	return workItem(rec, work), true
}

func customerItem(rec domain.RawRecord) domain.PipelineItem {
	c := rec.Customer
	id := c.ID
	if id == "" {
		id = rec.ID
	}
	if !strings.HasPrefix(id, domain.CustomerIDPrefix) {
		id = domain.CustomerIDPrefix + id
	}
	st := stage.Coerce(firstNonEmpty(c.Stage, rec.Stage))
	created := parseTime(c.CreatedAt)
	return domain.PipelineItem{
		ID:           id,
		Kind:         domain.KindCustomer,
		Stage:        st,
		Reference:    reference("", domain.KindCustomer, id),
		CustomerName: c.Name,
		Salesperson:  c.Salesperson,
		CreatedBy:    c.CreatedBy,
		Address:      c.Address,
		Phone:        c.Phone,
		CreatedAt:    created,
		StageSince:   created,
	}
}

func workItem(rec domain.RawRecord, work *domain.RawWorkItem) domain.PipelineItem {
	c := rec.Customer
	rawID := firstNonEmpty(work.ID, rec.ID)

	// Job vs project is a string-prefix convention on the raw id; the
	// tag is assigned here exactly once.
	kind := domain.KindJob
	prefix := domain.JobIDPrefix
	if strings.HasPrefix(rawID, domain.ProjectIDPrefix) {
		kind = domain.KindProject
		prefix = domain.ProjectIDPrefix
	}
	id := rawID
	if !strings.HasPrefix(id, prefix) {
		id = prefix + id
	}

	st := stage.Coerce(firstNonEmpty(work.Stage, rec.Stage))
	created := parseTime(firstNonEmpty(work.CreatedAt, c.CreatedAt))
	since := parseTime(work.StageSince)
	if since.IsZero() {
		since = created
	}
	item := domain.PipelineItem{
		ID:           id,
		Kind:         kind,
		Stage:        st,
		Reference:    reference(work.Reference, kind, id),
		CustomerName: c.Name,
		Salesperson:  c.Salesperson,
		CreatedBy:    c.CreatedBy,
		Address:      c.Address,
		Phone:        c.Phone,
		JobType:      work.JobType,
		Value:        work.Value,
		MeasureDate:  work.MeasureDate,
		CreatedAt:    created,
		StageSince:   since,
	}
	if kind == domain.KindProject {
		name := work.Name
		if name == "" {
			name = c.Name
		}
		item.Project = &domain.ProjectDetails{
			Name:          name,
			JobType:       work.JobType,
			ScheduledDate: work.ScheduledDate,
			Notes:         work.Notes,
		}
	}
	return item
}

// reference returns the source reference code, or synthesizes one from
// the uppercased tail of the id with a per-kind prefix.
func reference(existing string, kind domain.Kind, id string) string {
	if strings.TrimSpace(existing) != "" {
		return existing
	}
	suffix := domain.RawID(id)
	if len(suffix) > referenceSuffixLen {
		suffix = suffix[len(suffix)-referenceSuffixLen:]
	}
	suffix = strings.ToUpper(suffix)
	switch kind {
	case domain.KindJob:
		return "JOB-" + suffix
	case domain.KindProject:
		return "PRJ-" + suffix
	default:
		return "CUS-" + suffix
	}
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

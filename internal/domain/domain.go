// Package domain holds the shared pipeline data model.
package domain

import (
	"strings"
	"time"

	"fitline/internal/stage"
)

// Kind tags which entity family a pipeline item belongs to. It is
// assigned once during normalization from the id prefix; everything
// downstream switches on the tag instead of re-parsing the id.
type Kind string

const (
	KindCustomer Kind = "customer"
	KindJob      Kind = "job"
	KindProject  Kind = "project"
)

// Id prefixes, load-bearing: the prefix picks the server route family.
const (
	CustomerIDPrefix = "customer-"
	JobIDPrefix      = "job-"
	ProjectIDPrefix  = "project-"
)

// KindOf derives the entity kind from a prefixed item id. Ids without a
// known prefix are treated as customers, matching the feed's fallback.
func KindOf(id string) Kind {
	switch {
	case strings.HasPrefix(id, ProjectIDPrefix):
		return KindProject
	case strings.HasPrefix(id, JobIDPrefix):
		return KindJob
	default:
		return KindCustomer
	}
}

// RawID strips the kind prefix, yielding the id the server routes expect.
func RawID(id string) string {
	for _, p := range []string{ProjectIDPrefix, JobIDPrefix, CustomerIDPrefix} {
		if strings.HasPrefix(id, p) {
			return strings.TrimPrefix(id, p)
		}
	}
	return id
}

// ProjectDetails is the full mutable project payload. Projects have no
// partial-update route, so the client keeps a copy to reconstruct the
// whole object on every stage change.
type ProjectDetails struct {
	Name          string `json:"name"`
	JobType       string `json:"job_type"`
	ScheduledDate string `json:"scheduled_date,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// PipelineItem is the uniform unit of work on the board: a customer, a
// customer+job pair, or a customer+project pair flattened to one shape.
type PipelineItem struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Stage        stage.Stage     `json:"stage"`
	Reference    string          `json:"reference"`
	CustomerName string          `json:"customer_name"`
	Salesperson  string          `json:"salesperson"`
	CreatedBy    string          `json:"created_by"`
	Address      string          `json:"address,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	JobType      string          `json:"job_type,omitempty"`
	Value        float64         `json:"value,omitempty"`
	MeasureDate  string          `json:"measure_date,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StageSince   time.Time       `json:"stage_since"`
	Project      *ProjectDetails `json:"project,omitempty"`
}

// DaysInStage reports whole days the item has sat in its current stage.
func (p PipelineItem) DaysInStage(now time.Time) int {
	since := p.StageSince
	if since.IsZero() {
		since = p.CreatedAt
	}
	d := int(now.Sub(since).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// OwnedBy reports whether an identity matches the item's owning
// salesperson. The two upstream systems disagree on whether email or
// display name is authoritative, so both are checked.
func (p PipelineItem) OwnedBy(email, name string) bool {
	for _, owner := range []string{p.Salesperson, p.CreatedBy} {
		if owner == "" {
			continue
		}
		if email != "" && strings.EqualFold(owner, email) {
			return true
		}
		if name != "" && strings.EqualFold(owner, name) {
			return true
		}
	}
	return false
}

// Move records one card relocating between columns inside a single
// gesture. Moves exist only for the duration of a transition batch.
type Move struct {
	ItemID string
	From   stage.Stage
	To     stage.Stage
}

// User is the acting identity attached to every mutation.
type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Identity is the updated_by value sent to the server.
func (u User) Identity() string {
	if u.Email != "" {
		return u.Email
	}
	return u.Name
}

// RawCustomer is the nested customer object in the pipeline feed.
type RawCustomer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Salesperson string `json:"salesperson,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	Address     string `json:"address,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Stage       string `json:"stage,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// RawWorkItem is the nested job/project object. The feed may deliver it
// under either the "job" or "project" key for the same concept.
type RawWorkItem struct {
	ID            string  `json:"id"`
	Reference     string  `json:"reference,omitempty"`
	Stage         string  `json:"stage,omitempty"`
	JobType       string  `json:"job_type,omitempty"`
	Name          string  `json:"name,omitempty"`
	Value         float64 `json:"value,omitempty"`
	MeasureDate   string  `json:"measure_date,omitempty"`
	ScheduledDate string  `json:"scheduled_date,omitempty"`
	Notes         string  `json:"notes,omitempty"`
	CreatedAt     string  `json:"created_at,omitempty"`
	StageSince    string  `json:"stage_since,omitempty"`
}

// RawRecord is one element of the heterogeneous pipeline feed.
type RawRecord struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Stage    string       `json:"stage,omitempty"`
	Customer *RawCustomer `json:"customer"`
	Job      *RawWorkItem `json:"job,omitempty"`
	Project  *RawWorkItem `json:"project,omitempty"`
}

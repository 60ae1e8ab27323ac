// Package stage holds the fixed sales funnel catalog. Column layout,
// role visibility and menu ordering all derive from the order here.
package stage

import "strings"

// Stage is one position in the sales funnel.
type Stage string

const (
	Lead         Stage = "Lead"
	Survey       Stage = "Survey"
	Design       Stage = "Design"
	Quote        Stage = "Quote"
	Accepted     Stage = "Accepted"
	Ordered      Stage = "Ordered"
	Production   Stage = "Production"
	Delivery     Stage = "Delivery"
	Installation Stage = "Installation"
	Complete     Stage = "Complete"
	Remedial     Stage = "Remedial"
	Rejected     Stage = "Rejected"
)

// Default is the stage assigned when a record carries no usable stage.
const Default = Lead

var ordered = []Stage{
	Lead, Survey, Design, Quote, Accepted, Ordered,
	Production, Delivery, Installation, Complete, Remedial, Rejected,
}

// Attributes are per-stage display properties.
type Attributes struct {
	Color string
	// PostAcceptance marks stages visible to production-floor roles.
	PostAcceptance bool
}

var attributes = map[Stage]Attributes{
	Lead:         {Color: "#9ca3af"},
	Survey:       {Color: "#60a5fa"},
	Design:       {Color: "#818cf8"},
	Quote:        {Color: "#f59e0b"},
	Accepted:     {Color: "#34d399", PostAcceptance: true},
	Ordered:      {Color: "#10b981", PostAcceptance: true},
	Production:   {Color: "#2dd4bf", PostAcceptance: true},
	Delivery:     {Color: "#38bdf8", PostAcceptance: true},
	Installation: {Color: "#a78bfa", PostAcceptance: true},
	Complete:     {Color: "#22c55e", PostAcceptance: true},
	Remedial:     {Color: "#f87171", PostAcceptance: true},
	Rejected:     {Color: "#ef4444"},
}

// All returns every stage in funnel order.
func All() []Stage {
	out := make([]Stage, len(ordered))
	copy(out, ordered)
	return out
}

// Attrs returns the display attributes for a stage.
func Attrs(s Stage) Attributes {
	return attributes[s]
}

// Index returns the funnel position of s, or -1 for unknown values.
func Index(s Stage) int {
	for i, v := range ordered {
		if v == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a member of the catalog.
func Valid(s Stage) bool {
	return Index(s) >= 0
}

// Parse matches raw text against the catalog, trimming whitespace and
// ignoring case. The second return is false when nothing matches.
func Parse(raw string) (Stage, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, s := range ordered {
		if strings.EqualFold(trimmed, string(s)) {
			return s, true
		}
	}
	return "", false
}

// Coerce is the named default-stage normalization step: unknown or empty
// values become Default instead of being rejected.
func Coerce(raw string) Stage {
	if s, ok := Parse(raw); ok {
		return s
	}
	return Default
}

func (s Stage) String() string { return string(s) }

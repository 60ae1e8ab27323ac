package stage_test

import (
	"testing"

	"fitline/internal/stage"
)

func TestFunnelOrder(t *testing.T) {
	all := stage.All()
	if len(all) != 12 {
		t.Fatalf("expected 12 stages, got %d", len(all))
	}
	if all[0] != stage.Lead || all[len(all)-1] != stage.Rejected {
		t.Fatalf("funnel order wrong: %v", all)
	}
	for i, s := range all {
		if stage.Index(s) != i {
			t.Fatalf("Index(%s) = %d, want %d", s, stage.Index(s), i)
		}
	}
}

func TestParseTrimsAndIgnoresCase(t *testing.T) {
	cases := map[string]stage.Stage{
		"Lead":         stage.Lead,
		"  quote  ":    stage.Quote,
		"PRODUCTION":   stage.Production,
		"installatioN": stage.Installation,
	}
	for raw, want := range cases {
		got, ok := stage.Parse(raw)
		if !ok || got != want {
			t.Fatalf("Parse(%q) = %q,%v want %q", raw, got, ok, want)
		}
	}
	if _, ok := stage.Parse("Negotiation"); ok {
		t.Fatalf("Parse accepted an unknown stage")
	}
}

func TestCoerceDefaultsUnknownToLead(t *testing.T) {
	for _, raw := range []string{"", "   ", "garbage", "leads"} {
		if got := stage.Coerce(raw); got != stage.Lead {
			t.Fatalf("Coerce(%q) = %q, want Lead", raw, got)
		}
	}
	if got := stage.Coerce("survey"); got != stage.Survey {
		t.Fatalf("Coerce lost a valid stage: %q", got)
	}
}

func TestPostAcceptanceSpan(t *testing.T) {
	var post []stage.Stage
	for _, s := range stage.All() {
		if stage.Attrs(s).PostAcceptance {
			post = append(post, s)
		}
	}
	want := []stage.Stage{
		stage.Accepted, stage.Ordered, stage.Production,
		stage.Delivery, stage.Installation, stage.Complete, stage.Remedial,
	}
	if len(post) != len(want) {
		t.Fatalf("post-acceptance stages = %v, want %v", post, want)
	}
	for i := range want {
		if post[i] != want[i] {
			t.Fatalf("post-acceptance stages = %v, want %v", post, want)
		}
	}
}

func TestValid(t *testing.T) {
	if !stage.Valid(stage.Remedial) {
		t.Fatalf("Remedial should be valid")
	}
	if stage.Valid(stage.Stage("lead")) {
		t.Fatalf("Valid must be exact; lowercase should fail")
	}
}

package policy_test

import (
	"testing"

	"fitline/internal/domain"
	"fitline/internal/policy"
	"fitline/internal/stage"
)

func item(salesperson, createdBy string) domain.PipelineItem {
	return domain.PipelineItem{
		ID:          "job-1",
		Kind:        domain.KindJob,
		Stage:       stage.Quote,
		Salesperson: salesperson,
		CreatedBy:   createdBy,
	}
}

func TestNormalizeUnknownRoleFallsBackToSales(t *testing.T) {
	if got := policy.Normalize("director"); got != policy.RoleSales {
		t.Fatalf("Normalize(director) = %q", got)
	}
	if got := policy.Normalize("production"); got != policy.RoleProduction {
		t.Fatalf("Normalize(production) = %q", got)
	}
}

func TestElevatedRolesEditAnything(t *testing.T) {
	it := item("dana@fitline.test", "Dana Reeve")
	for _, role := range []string{"manager", "hr", "production"} {
		u := domain.User{Name: "Someone Else", Email: "else@fitline.test", Role: role}
		if !policy.CanEdit(it, u) {
			t.Fatalf("role %s should edit any record", role)
		}
	}
}

func TestSalesEditsOnlyOwnedItems(t *testing.T) {
	it := item("dana@fitline.test", "Dana Reeve")

	owner := domain.User{Name: "Dana Reeve", Email: "dana@fitline.test", Role: "sales"}
	if !policy.CanEdit(it, owner) {
		t.Fatalf("owner should edit own record")
	}

	// Email matches salesperson even when the display name differs.
	byEmail := domain.User{Name: "D. Reeve", Email: "DANA@fitline.test", Role: "sales"}
	if !policy.CanEdit(it, byEmail) {
		t.Fatalf("email match should be case-insensitive")
	}

	// Name matches created_by when the email does not line up.
	byName := domain.User{Name: "dana reeve", Email: "d.reeve@other.test", Role: "sales"}
	if !policy.CanEdit(it, byName) {
		t.Fatalf("name match against created_by should pass")
	}

	other := domain.User{Name: "Sam Okafor", Email: "sam@fitline.test", Role: "sales"}
	if policy.CanEdit(it, other) {
		t.Fatalf("non-owner sales must not edit")
	}
}

func TestCanAccessRequiresOnlyAnIdentity(t *testing.T) {
	it := item("dana@fitline.test", "Dana Reeve")
	if !policy.CanAccess(it, domain.User{Email: "sam@fitline.test"}) {
		t.Fatalf("any authenticated user should see the item")
	}
	if policy.CanAccess(it, domain.User{}) {
		t.Fatalf("anonymous user should not see items")
	}
}

func TestProductionSeesOnlyPostAcceptance(t *testing.T) {
	visible := policy.VisibleStages(policy.RoleProduction)
	for _, s := range visible {
		if !stage.Attrs(s).PostAcceptance {
			t.Fatalf("%s leaked into the production board", s)
		}
	}
	if len(visible) == 0 {
		t.Fatalf("production sees nothing")
	}
	if got := len(policy.VisibleStages(policy.RoleManager)); got != len(stage.All()) {
		t.Fatalf("manager sees %d stages, want all", got)
	}
}

func TestPermissionsMatrix(t *testing.T) {
	if p := policy.For(policy.RoleSales); p.CanViewAllRecords || p.CanDelete {
		t.Fatalf("sales permissions too broad: %+v", p)
	}
	if p := policy.For(policy.RoleManager); !p.CanDelete || !p.CanViewFinancials {
		t.Fatalf("manager permissions too narrow: %+v", p)
	}
	if p := policy.For(policy.RoleHR); p.CanDelete || p.CanSendQuotes {
		t.Fatalf("hr permissions too broad: %+v", p)
	}
}

// Package policy decides who may see and move pipeline items.
package policy

import (
	"fmt"

	"fitline/internal/domain"
	"fitline/internal/stage"
)

// Role is a named permission set.
type Role string

const (
	RoleManager    Role = "manager"
	RoleSales      Role = "sales"
	RoleProduction Role = "production"
	RoleHR         Role = "hr"
)

// Permissions is the flat capability record for a role.
type Permissions struct {
	CanCreate         bool
	CanEdit           bool
	CanDelete         bool
	CanViewFinancials bool
	CanDragDrop       bool
	CanViewAllRecords bool
	CanSendQuotes     bool
	CanSchedule       bool
}

// DeniedError reports an edit attempt blocked before any network call.
type DeniedError struct {
	ItemID string
	Actor  string
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("%s is not allowed to move %s", e.Actor, e.ItemID)
}

// Normalize maps free-form role text onto a known role. Unknown roles
// fall back to sales, the most restricted role that still edits.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleManager, RoleSales, RoleProduction, RoleHR:
		return Role(role)
	default:
		return RoleSales
	}
}

// For returns the permission record for a role.
func For(role Role) Permissions {
	switch role {
	case RoleManager:
		return Permissions{
			CanCreate: true, CanEdit: true, CanDelete: true,
			CanViewFinancials: true, CanDragDrop: true, CanViewAllRecords: true,
			CanSendQuotes: true, CanSchedule: true,
		}
	case RoleHR:
		return Permissions{
			CanCreate: true, CanEdit: true,
			CanViewFinancials: true, CanDragDrop: true, CanViewAllRecords: true,
			CanSchedule: true,
		}
	case RoleProduction:
		return Permissions{
			CanEdit: true, CanDragDrop: true, CanViewAllRecords: true,
			CanSchedule: true,
		}
	default: // sales
		return Permissions{
			CanCreate: true, CanEdit: true, CanDragDrop: true,
			CanSendQuotes: true,
		}
	}
}

// CanAccess reports item visibility for a user. Deliberately
// default-allow: every authenticated user sees every pipeline item,
// even where list screens filter by ownership.
func CanAccess(item domain.PipelineItem, user domain.User) bool {
	return user.Name != "" || user.Email != ""
}

// CanEdit reports whether the user may change the item's stage.
// Elevated roles edit anything; sales only their own records, matched by
// email or display name since upstream systems disagree on which is
// authoritative.
func CanEdit(item domain.PipelineItem, user domain.User) bool {
	role := Normalize(user.Role)
	if !For(role).CanEdit {
		return false
	}
	switch role {
	case RoleManager, RoleHR, RoleProduction:
		return true
	default:
		return item.OwnedBy(user.Email, user.Name)
	}
}

// VisibleStages returns the kanban columns a role may see. Production
// works only the post-acceptance part of the funnel.
func VisibleStages(role Role) []stage.Stage {
	if role != RoleProduction {
		return stage.All()
	}
	var out []stage.Stage
	for _, s := range stage.All() {
		if stage.Attrs(s).PostAcceptance {
			out = append(out, s)
		}
	}
	return out
}

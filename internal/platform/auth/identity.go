package auth

import "fmt"

type Role string

const (
	RoleAdmin  Role = "Admin"
	RoleStaff  Role = "Staff"
	RoleViewer Role = "Viewer"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleStaff, RoleViewer:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Identity: 認証済みの呼び出し元。コア処理は全てこれを受け取る
type Identity struct {
	UserID     string
	Role       Role
	IsApproved bool // Staff のみ意味を持つ
}

type Capability string

const (
	CapRequestEquipment Capability = "request_equipment"
	CapViewCatalog      Capability = "view_catalog"
	CapManageCatalog    Capability = "manage_catalog"
	CapDecideRequests   Capability = "decide_requests"
	CapHandleLoans      Capability = "handle_loans"
	CapViewReports      Capability = "view_reports"
	CapResolveAlerts    Capability = "resolve_alerts"
	CapApproveAccounts  Capability = "approve_accounts"
)

type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }

// effectiveRole: 未承認の Staff は Viewer 扱い
func (id Identity) effectiveRole() Role {
	if id.Role == RoleStaff && !id.IsApproved {
		return RoleViewer
	}
	return id.Role
}

// Privileged: 承認済み Staff か Admin
func (id Identity) Privileged() bool {
	r := id.effectiveRole()
	return r == RoleAdmin || r == RoleStaff
}

// Authorize: 権限判定のみ行う。拒否時の振る舞い(403等)は呼び出し側が決める
func (id Identity) Authorize(c Capability) Decision {
	if id.UserID == "" {
		return deny("unauthenticated")
	}
	role := id.effectiveRole()
	switch role {
	case RoleAdmin, RoleStaff, RoleViewer:
	default:
		return deny(fmt.Sprintf("unknown role %q", id.Role))
	}

	switch c {
	case CapRequestEquipment, CapViewCatalog:
		return allow()
	case CapManageCatalog, CapDecideRequests, CapHandleLoans, CapViewReports:
		if role == RoleAdmin || role == RoleStaff {
			return allow()
		}
		if id.Role == RoleStaff {
			return deny("staff account pending approval")
		}
		return deny("staff or admin role required")
	case CapResolveAlerts, CapApproveAccounts:
		if role == RoleAdmin {
			return allow()
		}
		return deny("admin role required")
	}
	return deny(fmt.Sprintf("unknown capability %q", c))
}

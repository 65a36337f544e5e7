package authz

import (
	"fmt"
	"strings"
)

// Action is the verb half of a permission name.
type Action string

const (
	ActionAccess  Action = "access"
	ActionRead    Action = "read"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionExport  Action = "export"
	ActionApprove Action = "approve"
	ActionAssign  Action = "assign"
)

// Actions lists every supported action in catalog order.
var Actions = []Action{
	ActionAccess,
	ActionRead,
	ActionCreate,
	ActionUpdate,
	ActionDelete,
	ActionExport,
	ActionApprove,
	ActionAssign,
}

// PermissionName is a validated "<module short code>.<action>" pair.
type PermissionName struct {
	ModuleCode string
	Action     Action
}

func (n PermissionName) String() string {
	return n.ModuleCode + "." + string(n.Action)
}

// ParsePermissionName validates the "module.action" shape. The module code
// must be lowercase alphanumeric and the action one of the supported verbs.
func ParsePermissionName(raw string) (PermissionName, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PermissionName{}, fmt.Errorf("%w: permission name is required", ErrInvalidInput)
	}
	dot := strings.IndexByte(raw, '.')
	if dot <= 0 || dot == len(raw)-1 {
		return PermissionName{}, fmt.Errorf("%w: permission name %q must be module.action", ErrInvalidInput, raw)
	}
	code, verb := raw[:dot], raw[dot+1:]
	for _, r := range code {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return PermissionName{}, fmt.Errorf("%w: module code %q must be lowercase alphanumeric", ErrInvalidInput, code)
		}
	}
	action := Action(verb)
	if !validAction(action) {
		return PermissionName{}, fmt.Errorf("%w: unsupported action %q", ErrInvalidInput, verb)
	}
	return PermissionName{ModuleCode: code, Action: action}, nil
}

func validAction(a Action) bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

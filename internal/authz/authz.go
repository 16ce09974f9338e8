// Package authz decides which roles may call which routes.  Roles arrive
// already resolved in the bearer token; this package only maps them onto
// route templates with casbin.
package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Roles carried in the token's "role" claim.
const (
	RoleAdmin     = "admin"
	RoleManager   = "manager"
	RoleModerator = "moderator"
	RoleDeveloper = "developer"
	RoleTester    = "tester"
	RoleObserver  = "observer"

	// roleParticipant groups everyone who can sit in a session.
	roleParticipant = "participant"
)

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

// Policies are route templates exactly as registered with echo.
var policies = [][]string{
	{roleParticipant, "/v1/sessions/:id/join", "POST"},
	{roleParticipant, "/v1/sessions/:id/leave", "POST"},
	{roleParticipant, "/v1/me/registrations", "GET"},

	{RoleTester, "/v1/requests/:id/join", "POST"},
	{RoleTester, "/v1/requests/:id/leave", "POST"},
	{RoleTester, "/v1/feedback", "POST"},

	{RoleDeveloper, "/v1/requests", "POST"},
	{RoleDeveloper, "/v1/requests/:id/status", "POST"},
	{RoleDeveloper, "/v1/feedback/:id/response", "POST"},

	{RoleManager, "/v1/locations", "POST"},
	{RoleManager, "/v1/locations/:id", "PUT"},
	{RoleManager, "/v1/locations/:id", "DELETE"},
	{RoleManager, "/v1/sessions", "POST"},
	{RoleManager, "/v1/sessions/advance", "POST"},
	{RoleManager, "/v1/sessions/:id/status", "POST"},
	{RoleManager, "/v1/sessions/:id/confirm", "POST"},
	{RoleManager, "/v1/sessions/:id/reject", "POST"},
	{RoleManager, "/v1/sessions/:id/attendance", "POST"},
	{RoleManager, "/v1/sessions/:id/registrations", "GET"},

	{RoleModerator, "/v1/moderation/feedback", "GET"},
	{RoleModerator, "/v1/feedback/:id", "GET"},
	{RoleModerator, "/v1/feedback/:id/moderate", "POST"},
}

var groupings = [][]string{
	{RoleTester, roleParticipant},
	{RoleDeveloper, roleParticipant},
	{RoleObserver, roleParticipant},
	{RoleAdmin, RoleManager},
	{RoleAdmin, RoleModerator},
	{RoleAdmin, RoleDeveloper},
	{RoleAdmin, RoleTester},
}

// Enforcer answers route permission questions for a role.
type Enforcer struct {
	e *casbin.Enforcer
}

// New builds the enforcer with the built-in role table.
func New() (*Enforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("authz model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz enforcer: %w", err)
	}
	if _, err := e.AddPolicies(policies); err != nil {
		return nil, fmt.Errorf("authz policies: %w", err)
	}
	if _, err := e.AddGroupingPolicies(groupings); err != nil {
		return nil, fmt.Errorf("authz roles: %w", err)
	}
	return &Enforcer{e: e}, nil
}

// Allowed reports whether role may call method on the route template path.
func (a *Enforcer) Allowed(role, path, method string) (bool, error) {
	if role == "" {
		return false, nil
	}
	return a.e.Enforce(role, path, method)
}

// Known reports whether role is one of the token roles this service accepts.
func Known(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleModerator, RoleDeveloper, RoleTester, RoleObserver:
		return true
	}
	return false
}

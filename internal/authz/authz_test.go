package authz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
)

const testModel = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub, "*") && (r.dom == p.dom || p.dom == "*") && keyMatch(r.obj, p.obj) && regexMatch(r.act, p.act)
`

const testPolicy = `p, role:admin, *, /api/v1/*, .*
p, role:analyst, *, /api/v1/governance/*, POST
p, role:viewer, *, /api/v1/evaluations*, GET
g, role:analyst, role:viewer, *
`

func newTestAuthorizer(t *testing.T, mode Mode) *Authorizer {
	t.Helper()
	dir := t.TempDir()

	modelPath := filepath.Join(dir, "model.conf")
	if err := os.WriteFile(modelPath, []byte(testModel), 0o600); err != nil {
		t.Fatal(err)
	}
	policyPath := filepath.Join(dir, "policy.csv")
	if err := os.WriteFile(policyPath, []byte(testPolicy), 0o600); err != nil {
		t.Fatal(err)
	}

	a, err := NewAuthorizer(modelPath, policyPath, mode)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}
	return a
}

func TestAuthorizeEnforce(t *testing.T) {
	a := newTestAuthorizer(t, ModeEnforce)
	orgID := uuid.New()

	tests := []struct {
		name    string
		subject string
		domain  string
		object  string
		action  string
		allowed bool
	}{
		{"admin anywhere", Subject(models.RoleAdmin), "*", "/api/v1/orgs", "DELETE", true},
		{"analyst evaluates", Subject(models.RoleAnalyst), orgID.String(), "/api/v1/governance/evaluate", "POST", true},
		{"analyst inherits viewer reads", Subject(models.RoleAnalyst), orgID.String(), "/api/v1/evaluations", "GET", true},
		{"viewer cannot evaluate", Subject(models.RoleViewer), orgID.String(), "/api/v1/governance/evaluate", "POST", false},
		{"viewer cannot delete", Subject(models.RoleViewer), orgID.String(), "/api/v1/evaluations", "DELETE", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, enforced, err := a.Authorize(tt.subject, tt.domain, tt.object, tt.action)
			if err != nil {
				t.Fatalf("authorize: %v", err)
			}
			if allowed != tt.allowed {
				t.Errorf("allowed = %v, want %v", allowed, tt.allowed)
			}
			if !enforced {
				t.Error("enforce mode must report binding decisions")
			}
		})
	}
}

func TestAuthorizeShadowNeverBinds(t *testing.T) {
	a := newTestAuthorizer(t, ModeShadow)

	allowed, enforced, err := a.Authorize(Subject(models.RoleViewer), "*", "/api/v1/governance/evaluate", "POST")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if allowed {
		t.Error("shadow mode should still evaluate the policy")
	}
	if enforced {
		t.Error("shadow denials must not be binding")
	}
}

func TestAuthorizeDisabled(t *testing.T) {
	a := newTestAuthorizer(t, ModeDisabled)

	allowed, enforced, err := a.Authorize("role:nobody", "*", "/anything", "DELETE")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !allowed || enforced {
		t.Errorf("disabled mode = (%v, %v), want allow without binding", allowed, enforced)
	}
}

func TestParseMode(t *testing.T) {
	for raw, want := range map[string]Mode{
		"":         ModeEnforce,
		"enforce":  ModeEnforce,
		" Shadow ": ModeShadow,
		"disabled": ModeDisabled,
	} {
		got, err := ParseMode(raw)
		if err != nil {
			t.Errorf("ParseMode(%q): %v", raw, err)
			continue
		}
		if got != want {
			t.Errorf("ParseMode(%q) = %s, want %s", raw, got, want)
		}
	}

	if _, err := ParseMode("audit"); err == nil {
		t.Error("expected an error for an unknown mode")
	}
}

func TestSubjectAndDomain(t *testing.T) {
	if got := Subject(models.RoleOrgAdmin); got != "role:org_admin" {
		t.Errorf("subject = %s", got)
	}
	if got := Subject(models.Role("")); got != "role:anonymous" {
		t.Errorf("subject = %s", got)
	}

	if got := Domain(nil); got != "*" {
		t.Errorf("domain = %s, want wildcard", got)
	}
	orgID := uuid.New()
	if got := Domain(&orgID); got != orgID.String() {
		t.Errorf("domain = %s, want %s", got, orgID)
	}
}

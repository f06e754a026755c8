package validation

import (
	"strings"
	"testing"
)

type createUserRequest struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8,max=72"`
	Role     string `validate:"oneof=admin org_admin analyst viewer"`
}

type createPoolRequest struct {
	Name      string `validate:"required,max=100"`
	Strategy  string `validate:"oneof=round_robin weighted fastest"`
	TimeoutMS int    `validate:"min=0,max=60000"`
}

func TestValidateAcceptsValidStruct(t *testing.T) {
	v := NewValidator()
	err := v.Validate(&createUserRequest{
		Email:    "user@example.com",
		Password: "correct-horse",
		Role:     "analyst",
	})
	if err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestValidateRequired(t *testing.T) {
	v := NewValidator()
	err := v.Validate(&createUserRequest{Password: "correct-horse"})
	if err == nil || !strings.Contains(err.Error(), "Email") {
		t.Errorf("err = %v, want required Email failure", err)
	}
}

func TestValidateEmailFormat(t *testing.T) {
	v := NewValidator()
	for _, email := range []string{"no-at-sign", "@leading", "trailing@"} {
		err := v.Validate(&createUserRequest{Email: email, Password: "correct-horse"})
		if err == nil {
			t.Errorf("email %q was accepted", email)
		}
	}
}

func TestValidateEmailSkipsEmptyOptional(t *testing.T) {
	type orgRequest struct {
		Name         string `validate:"required"`
		BillingEmail string `validate:"email"`
	}
	v := NewValidator()
	if err := v.Validate(&orgRequest{Name: "acme"}); err != nil {
		t.Errorf("empty optional email rejected: %v", err)
	}
}

func TestValidateStringBounds(t *testing.T) {
	v := NewValidator()

	err := v.Validate(&createUserRequest{Email: "u@example.com", Password: "short"})
	if err == nil || !strings.Contains(err.Error(), "minimum length") {
		t.Errorf("err = %v, want minimum length failure", err)
	}

	err = v.Validate(&createUserRequest{
		Email:    "u@example.com",
		Password: strings.Repeat("x", 73),
	})
	if err == nil || !strings.Contains(err.Error(), "maximum length") {
		t.Errorf("err = %v, want maximum length failure", err)
	}
}

func TestValidateIntBounds(t *testing.T) {
	v := NewValidator()

	err := v.Validate(&createPoolRequest{Name: "pool", Strategy: "fastest", TimeoutMS: 120000})
	if err == nil || !strings.Contains(err.Error(), "maximum value") {
		t.Errorf("err = %v, want maximum value failure", err)
	}
}

func TestValidateOneOf(t *testing.T) {
	v := NewValidator()

	err := v.Validate(&createPoolRequest{Name: "pool", Strategy: "random"})
	if err == nil || !strings.Contains(err.Error(), "one of") {
		t.Errorf("err = %v, want oneof failure", err)
	}

	// Empty value defers to required, oneof alone does not force a choice
	if err := v.Validate(&createPoolRequest{Name: "pool"}); err != nil {
		t.Errorf("empty oneof field rejected: %v", err)
	}
}

func TestValidateRejectsNonStruct(t *testing.T) {
	if err := NewValidator().Validate("not a struct"); err == nil {
		t.Error("expected an error for a non-struct value")
	}
}

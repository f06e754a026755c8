package policy

import (
	"strings"
	"testing"
)

func TestValidateAcceptsGoodDocument(t *testing.T) {
	result := Validate(`
version: 1
quorum: 1
rules:
  - id: r1
    condition: scores["toxicity"] > 0.8 && content != ""
    action: block
    severity: high
`)
	if !result.Valid() {
		t.Errorf("errors = %v, want none", result.Errors)
	}
}

func TestValidateRejectsBadYAML(t *testing.T) {
	result := Validate("rules: [unclosed")
	if result.Valid() {
		t.Error("expected errors for malformed yaml")
	}
}

func TestValidateRejectsNonBoolCondition(t *testing.T) {
	result := Validate(`
version: 1
rules:
  - id: r1
    condition: scores["toxicity"] + 1.0
    action: block
    severity: high
`)
	if result.Valid() {
		t.Fatal("expected errors for non-bool condition")
	}
	if !strings.Contains(strings.Join(result.Errors, "; "), "bool") {
		t.Errorf("errors = %v, want bool output complaint", result.Errors)
	}
}

func TestValidateRejectsUnknownAction(t *testing.T) {
	result := Validate(`
version: 1
rules:
  - id: r1
    condition: scores["toxicity"] > 0.5
    action: quarantine
    severity: high
`)
	if result.Valid() {
		t.Error("expected errors for unknown action")
	}
}

func TestValidateRejectsRedactWithoutPatterns(t *testing.T) {
	result := Validate(`
version: 1
rules:
  - id: r1
    condition: scores["pii"] > 0.5
    action: redact
    severity: medium
`)
	if result.Valid() {
		t.Error("expected errors for redact without patterns")
	}
}

func TestValidateRejectsBadRedactPattern(t *testing.T) {
	result := Validate(`
version: 1
rules:
  - id: r1
    condition: scores["pii"] > 0.5
    action: redact
    severity: medium
    redact:
      - '[unclosed'
`)
	if result.Valid() {
		t.Error("expected errors for invalid regexp")
	}
}

func TestValidateRejectsDuplicateRuleIDs(t *testing.T) {
	result := Validate(`
version: 1
rules:
  - id: r1
    condition: scores["a"] > 0.5
    action: block
    severity: low
  - id: r1
    condition: scores["b"] > 0.5
    action: block
    severity: low
`)
	if result.Valid() {
		t.Error("expected errors for duplicate rule ids")
	}
}

func TestValidateWarnsOnEmptyDocument(t *testing.T) {
	result := Validate("version: 1\n")
	if !result.Valid() {
		t.Errorf("errors = %v, want none", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning for an empty rule set")
	}
}

func TestParseDocumentDefaultsQuorum(t *testing.T) {
	doc, err := ParseDocument("version: 1\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Quorum != 1 {
		t.Errorf("quorum = %d, want 1", doc.Quorum)
	}
}

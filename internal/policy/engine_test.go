package policy

import (
	"strings"
	"testing"

	"github.com/crossaudit/governance-server/internal/models"
)

const toxicitySource = `
version: 1
quorum: 1
rules:
  - id: block-toxic
    condition: scores["toxicity"] > 0.8
    action: block
    severity: high
    violation: toxicity
    confidence: toxicity
    requires: [toxicity]
`

func TestDecideBlocksToxicContent(t *testing.T) {
	doc, err := ParseDocument(toxicitySource)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	engine := NewEngine(1)
	decision, err := engine.Decide(doc, models.ScoreMap{"toxicity": 0.9}, "some text")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}

	if decision.Action != models.ActionBlock {
		t.Errorf("action = %s, want block", decision.Action)
	}
	if decision.Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want high", decision.Severity)
	}
	if decision.RuleID != "block-toxic" {
		t.Errorf("rule id = %s, want block-toxic", decision.RuleID)
	}
	if len(decision.Violations) != 1 {
		t.Fatalf("violations = %d, want 1", len(decision.Violations))
	}
	v := decision.Violations[0]
	if v.Type != "toxicity" || v.RuleID != "block-toxic" {
		t.Errorf("violation = %+v", v)
	}
	if v.Confidence != 0.9 {
		t.Errorf("confidence = %f, want 0.9", v.Confidence)
	}
}

func TestDecideAllowsWhenNoRuleMatches(t *testing.T) {
	doc, err := ParseDocument(toxicitySource)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	engine := NewEngine(1)
	decision, err := engine.Decide(doc, models.ScoreMap{"toxicity": 0.2}, "benign text")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}

	if decision.Action != models.ActionAllow {
		t.Errorf("action = %s, want allow", decision.Action)
	}
	if decision.RuleID != "" {
		t.Errorf("rule id = %s, want empty", decision.RuleID)
	}
	if len(decision.Violations) != 0 {
		t.Errorf("violations = %d, want 0", len(decision.Violations))
	}
	if decision.FinalText != "benign text" {
		t.Errorf("final text = %q", decision.FinalText)
	}
}

func TestDecideQuorumUnmet(t *testing.T) {
	doc, err := ParseDocument(`
version: 1
quorum: 2
rules:
  - id: r1
    condition: scores["toxicity"] > 0.5
    action: block
    severity: low
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	engine := NewEngine(1)
	_, err = engine.Decide(doc, models.ScoreMap{"toxicity": 0.9}, "text")
	qerr, ok := err.(*QuorumError)
	if !ok {
		t.Fatalf("err = %v, want QuorumError", err)
	}
	if qerr.Need != 2 || qerr.Got != 1 {
		t.Errorf("quorum error = %+v", qerr)
	}
}

// Without evaluator scores the quorum gate does not apply: rules that
// require metrics abstain, content rules still run.
func TestDecideContentOnlySkipsQuorum(t *testing.T) {
	doc, err := ParseDocument(`
version: 1
quorum: 1
rules:
  - id: needs-scores
    condition: scores["toxicity"] > 0.5
    action: block
    severity: high
    requires: [toxicity]
  - id: banned-phrase
    condition: content.contains("forbidden")
    action: block
    severity: medium
    violation: banned_phrase
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	engine := NewEngine(1)
	decision := engine.DecideContentOnly(doc, "this text is forbidden")

	if decision.RuleID != "banned-phrase" {
		t.Errorf("rule id = %s, want banned-phrase", decision.RuleID)
	}
	if decision.Action != models.ActionBlock {
		t.Errorf("action = %s, want block", decision.Action)
	}
	if len(decision.Violations) != 1 {
		t.Errorf("violations = %d, want 1", len(decision.Violations))
	}

	decision = engine.DecideContentOnly(doc, "benign text")
	if decision.Action != models.ActionAllow || decision.RuleID != "" {
		t.Errorf("decision = %s/%q, want allow with no rule", decision.Action, decision.RuleID)
	}
}

func TestDecideRuleAbstainsOnMissingRequiredMetric(t *testing.T) {
	doc, err := ParseDocument(`
version: 1
rules:
  - id: needs-pii
    condition: scores["pii"] > 0.5
    action: block
    severity: high
    requires: [pii]
  - id: fallback
    condition: scores["toxicity"] > 0.5
    action: rewrite
    severity: medium
    rewrite: "content withheld"
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	engine := NewEngine(1)
	decision, err := engine.Decide(doc, models.ScoreMap{"toxicity": 0.7}, "text")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}

	if decision.RuleID != "fallback" {
		t.Errorf("rule id = %s, want fallback", decision.RuleID)
	}
	if decision.Action != models.ActionRewrite {
		t.Errorf("action = %s, want rewrite", decision.Action)
	}
	if decision.FinalText != "content withheld" {
		t.Errorf("final text = %q", decision.FinalText)
	}
}

func TestDecideRedactsMatchedPatterns(t *testing.T) {
	doc, err := ParseDocument(`
version: 1
rules:
  - id: redact-ssn
    condition: scores["pii"] > 0.5
    action: redact
    severity: medium
    violation: pii
    redact:
      - '\d{3}-\d{2}-\d{4}'
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	engine := NewEngine(1)
	decision, err := engine.Decide(doc, models.ScoreMap{"pii": 0.9}, "my ssn is 123-45-6789 ok")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}

	if decision.Action != models.ActionRedact {
		t.Errorf("action = %s, want redact", decision.Action)
	}
	if strings.Contains(decision.FinalText, "123-45-6789") {
		t.Errorf("final text still contains the ssn: %q", decision.FinalText)
	}
	if !strings.Contains(decision.FinalText, "[REDACTED]") {
		t.Errorf("final text = %q, want redacted placeholder", decision.FinalText)
	}
}

func TestFirstMatchDecidesLaterMatchesOnlyAddViolations(t *testing.T) {
	doc, err := ParseDocument(`
version: 1
rules:
  - id: first
    condition: scores["toxicity"] > 0.5
    action: rewrite
    severity: medium
    violation: toxicity
    rewrite: "replaced"
  - id: second
    condition: scores["toxicity"] > 0.5
    action: block
    severity: critical
    violation: repeat
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	engine := NewEngine(1)
	decision, err := engine.Decide(doc, models.ScoreMap{"toxicity": 0.9}, "text")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}

	if decision.RuleID != "first" || decision.Action != models.ActionRewrite {
		t.Errorf("decision = %s/%s, want first/rewrite", decision.RuleID, decision.Action)
	}
	if len(decision.Violations) != 2 {
		t.Errorf("violations = %d, want 2", len(decision.Violations))
	}
}

// Re-parsing validated source must yield equivalent decisions.
func TestReparseYieldsEquivalentDecision(t *testing.T) {
	result := Validate(toxicitySource)
	if !result.Valid() {
		t.Fatalf("validate: %v", result.Errors)
	}

	engine := NewEngine(1)
	scores := models.ScoreMap{"toxicity": 0.85}

	var actions []models.Action
	for i := 0; i < 3; i++ {
		doc, err := ParseDocument(toxicitySource)
		if err != nil {
			t.Fatalf("parse %d: %v", i, err)
		}
		decision, err := engine.Decide(doc, scores, "text")
		if err != nil {
			t.Fatalf("decide %d: %v", i, err)
		}
		actions = append(actions, decision.Action)
	}

	for i := 1; i < len(actions); i++ {
		if actions[i] != actions[0] {
			t.Errorf("decision %d = %s, differs from first = %s", i, actions[i], actions[0])
		}
	}
}

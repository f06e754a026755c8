package policy

import (
	"fmt"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/crossaudit/governance-server/internal/models"
)

// QuorumError is returned when too few evaluator scores arrived to decide
type QuorumError struct {
	Need int
	Got  int
}

func (e *QuorumError) Error() string {
	return fmt.Sprintf("score quorum unmet: need %d, got %d", e.Need, e.Got)
}

// Decision is the outcome of evaluating one rule document
type Decision struct {
	Action   models.Action
	Severity models.Severity

	// RuleID identifies the first matching rule; empty when no rule matched
	RuleID string

	// FinalText carries the content after rewrite/redact; equals the
	// evaluated content otherwise
	FinalText string

	Violations []*models.PolicyViolation
}

// Engine evaluates parsed rule documents against evaluator scores.
// Compiled CEL programs are cached per condition source, so re-parsing a
// validated document yields equivalent decisions.
type Engine struct {
	minQuorum int
}

// NewEngine creates an engine. minQuorum is the floor applied when a
// document declares a lower quorum.
func NewEngine(minQuorum int) *Engine {
	if minQuorum < 1 {
		minQuorum = 1
	}
	return &Engine{minQuorum: minQuorum}
}

// Decide evaluates the document's rules in order against the scores and
// content. The first matching rule fixes the action and severity; every
// matching rule that declares a violation type records one. No match
// means allow.
func (e *Engine) Decide(doc *RuleDocument, scores models.ScoreMap, content string) (*Decision, error) {
	quorum := doc.Quorum
	if quorum < e.minQuorum {
		quorum = e.minQuorum
	}
	if len(scores) < quorum {
		return nil, &QuorumError{Need: quorum, Got: len(scores)}
	}

	return e.decide(doc, scores, content), nil
}

// DecideContentOnly evaluates a document for a policy with no evaluator
// pool behind it. The quorum gate does not apply: rules that require
// metrics abstain and the remaining rules match on content alone.
func (e *Engine) DecideContentOnly(doc *RuleDocument, content string) *Decision {
	return e.decide(doc, models.ScoreMap{}, content)
}

func (e *Engine) decide(doc *RuleDocument, scores models.ScoreMap, content string) *Decision {
	decision := &Decision{
		Action:    models.ActionAllow,
		Severity:  models.SeverityLow,
		FinalText: content,
	}

	for _, rule := range doc.Rules {
		if missingRequired(rule.Requires, scores) {
			continue
		}

		matched, err := evalCondition(rule.Condition, scores, content)
		if err != nil {
			log.Warn().Err(err).Str("rule_id", rule.ID).Msg("Rule condition evaluation failed, abstaining")
			continue
		}
		if !matched {
			continue
		}

		if rule.Violation != "" {
			decision.Violations = append(decision.Violations, &models.PolicyViolation{
				Type:       rule.Violation,
				Severity:   rule.Severity,
				RuleID:     rule.ID,
				Confidence: confidenceFor(rule, scores),
			})
		}

		// First match decides; later rules only contribute violations
		if decision.RuleID != "" {
			continue
		}
		decision.RuleID = rule.ID
		decision.Action = rule.Action
		decision.Severity = rule.Severity

		switch rule.Action {
		case models.ActionRewrite:
			decision.FinalText = rule.Rewrite
		case models.ActionRedact:
			decision.FinalText = redact(content, rule.Redact)
		}
	}

	return decision
}

func missingRequired(requires []string, scores models.ScoreMap) bool {
	for _, metric := range requires {
		if _, ok := scores[metric]; !ok {
			return true
		}
	}
	return false
}

func evalCondition(expr string, scores models.ScoreMap, content string) (bool, error) {
	program, err := compileCondition(expr)
	if err != nil {
		return false, err
	}
	out, _, err := program.Eval(map[string]any{
		"scores":  map[string]float64(scores),
		"content": content,
	})
	if err != nil {
		return false, err
	}
	return out.Value().(bool), nil
}

// confidenceFor reports the score of the rule's confidence metric, 1.0
// when the rule names none
func confidenceFor(rule Rule, scores models.ScoreMap) float64 {
	if rule.Confidence == "" {
		return 1.0
	}
	if v, ok := scores[rule.Confidence]; ok {
		return v
	}
	return 1.0
}

const redactedPlaceholder = "[REDACTED]"

func redact(content string, patterns []string) string {
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Validation rejects bad patterns before activation
			continue
		}
		content = re.ReplaceAllString(content, redactedPlaceholder)
	}
	return content
}

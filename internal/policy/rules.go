package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/crossaudit/governance-server/internal/models"
)

// RuleDocument is the parsed form of a policy's YAML source
type RuleDocument struct {
	Version int    `yaml:"version"`
	Quorum  int    `yaml:"quorum"`
	Rules   []Rule `yaml:"rules"`
}

// Rule is one condition → action mapping. Conditions are CEL expressions
// over the `scores` map and the `content` string.
type Rule struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`

	Condition string `yaml:"condition"`

	Action   models.Action   `yaml:"action"`
	Severity models.Severity `yaml:"severity"`

	// Violation is the violation type to record on match; empty records none
	Violation string `yaml:"violation"`
	// Confidence names the score metric reported as match confidence
	Confidence string `yaml:"confidence"`

	// Requires lists metrics that must be present or the rule abstains
	Requires []string `yaml:"requires"`

	// Redact patterns applied to content when action is redact
	Redact []string `yaml:"redact"`
	// Rewrite is the replacement text when action is rewrite
	Rewrite string `yaml:"rewrite"`
}

var celEnvOnce sync.Once
var celEnv *cel.Env
var celEnvErr error

func ruleEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("scores", cel.MapType(cel.StringType, cel.DoubleType)),
			cel.Variable("content", cel.StringType),
		)
	})
	return celEnv, celEnvErr
}

var conditionProgramCache sync.Map

// compileCondition compiles a rule condition to a cached CEL program.
// Conditions must evaluate to bool.
func compileCondition(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("condition required")
	}
	if cached, ok := conditionProgramCache.Load(expr); ok {
		return cached.(cel.Program), nil
	}

	env, err := ruleEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.New("condition must evaluate to bool")
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}

	conditionProgramCache.Store(expr, program)
	return program, nil
}

// ParseDocument parses policy YAML source. Parsing is deterministic: the
// same source always yields an equivalent document.
func ParseDocument(source string) (*RuleDocument, error) {
	var doc RuleDocument
	if err := yaml.Unmarshal([]byte(source), &doc); err != nil {
		return nil, fmt.Errorf("parse rule document: %w", err)
	}
	if doc.Quorum < 1 {
		doc.Quorum = 1
	}
	return &doc, nil
}

// ValidationResult collects validation errors and warnings
type ValidationResult struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Valid reports whether the source may become active
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// sampleScores drives the validation dry-run
var sampleScores = models.ScoreMap{
	"toxicity": 0.5, "pii": 0.5, "bias": 0.5, "hallucination": 0.5,
}

// Validate checks policy source: YAML shape, CEL compilation of every
// condition, redact pattern compilation, and a dry-run against sample
// scores. Invalid sources must never be activated.
func Validate(source string) *ValidationResult {
	result := &ValidationResult{}

	doc, err := ParseDocument(source)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	if len(doc.Rules) == 0 {
		result.Warnings = append(result.Warnings, "document has no rules; every request will be allowed")
	}

	seen := make(map[string]struct{})
	for i, rule := range doc.Rules {
		name := rule.ID
		if name == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("rule %d: id required", i))
			name = fmt.Sprintf("rule %d", i)
		}
		if _, dup := seen[rule.ID]; dup && rule.ID != "" {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: duplicate id", name))
		}
		seen[rule.ID] = struct{}{}

		switch rule.Action {
		case models.ActionAllow, models.ActionBlock, models.ActionRewrite, models.ActionRedact:
		default:
			result.Errors = append(result.Errors, fmt.Sprintf("%s: unknown action %q", name, rule.Action))
		}

		program, err := compileCondition(rule.Condition)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
		} else {
			// Dry-run so type errors that only surface at eval time are
			// caught before activation
			if _, _, err := program.Eval(map[string]any{
				"scores":  map[string]float64(sampleScores),
				"content": "sample content",
			}); err != nil && !strings.Contains(err.Error(), "no such key") {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: dry-run: %v", name, err))
			}
		}

		if rule.Action == models.ActionRedact && len(rule.Redact) == 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: redact action requires patterns", name))
		}
		for _, pattern := range rule.Redact {
			if _, err := regexp.Compile(pattern); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: redact pattern: %v", name, err))
			}
		}

		if rule.Action == models.ActionRewrite && rule.Rewrite == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: rewrite action requires replacement text", name))
		}
	}

	return result
}

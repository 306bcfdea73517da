package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/vulnforge/vulnforge/internal/entity"
)

// AlertPolicy decides whether a reconciled vulnerability warrants an alert
type AlertPolicy interface {
	// Evaluate runs the policy against one merged record
	Evaluate(ctx context.Context, vuln *entity.Vulnerability) (*Decision, error)
}

// PolicyConfig defines a CEL-based alert policy
type PolicyConfig struct {
	// Expression is the CEL expression that must evaluate to true for an
	// alert to fire. Available variables:
	//   - id: vulnerability identifier
	//   - source: origin tag of the reconciled record
	//   - severity: normalized severity label
	//   - score: best-available CVSS base score (v3 preferred, 0.0 if unscored)
	//   - scored: whether any CVSS score is present
	//   - packageCount: number of affected packages
	//   - patchCount: number of known patch links
	//   - hasFix: whether any affected package carries a fixed version
	Expression string `yaml:"expression" json:"expression"`

	// AlertMessage is the message attached to firing alerts (optional)
	AlertMessage string `yaml:"alertMessage" json:"alertMessage"`
}

// Decision represents the result of policy evaluation
type Decision struct {
	Alert  bool
	Reason string
}

// Engine implements AlertPolicy using compiled CEL expressions
type Engine struct {
	logger     *slog.Logger
	config     PolicyConfig
	celEnv     *cel.Env
	celProgram cel.Program
}

// NewEngine creates a new alert policy engine
func NewEngine(logger *slog.Logger, config PolicyConfig) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Default policy: alert on high-scoring records without a known fix
	if config.Expression == "" {
		config.Expression = `score >= 9.0 && !hasFix`
		config.AlertMessage = "critical vulnerability without an available fix"
	}

	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("score", cel.DoubleType),
		cel.Variable("scored", cel.BoolType),
		cel.Variable("packageCount", cel.IntType),
		cel.Variable("patchCount", cel.IntType),
		cel.Variable("hasFix", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(config.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy expression must return a boolean, got %v", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Engine{
		logger:     logger,
		config:     config,
		celEnv:     env,
		celProgram: program,
	}, nil
}

// Evaluate runs the compiled expression against one merged record
func (e *Engine) Evaluate(ctx context.Context, vuln *entity.Vulnerability) (*Decision, error) {
	if vuln == nil {
		return nil, fmt.Errorf("vulnerability is nil")
	}

	score, scored := vuln.BestCVSSScore()

	hasFix := false
	for _, pkg := range vuln.Packages {
		if len(pkg.FixedVersions) > 0 {
			hasFix = true
			break
		}
	}

	celInput := map[string]interface{}{
		"id":           vuln.ID,
		"source":       vuln.Source,
		"severity":     vuln.Severity,
		"score":        score,
		"scored":       scored,
		"packageCount": len(vuln.Packages),
		"patchCount":   len(vuln.Patches),
		"hasFix":       hasFix,
	}

	out, _, err := e.celProgram.Eval(celInput)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	alert, ok := out.Value().(bool)
	if !ok {
		return nil, fmt.Errorf("policy expression did not return a boolean: %v", out.Value())
	}

	decision := &Decision{Alert: alert}
	if alert {
		decision.Reason = e.config.AlertMessage
		if decision.Reason == "" {
			decision.Reason = fmt.Sprintf("alert policy matched: score=%.1f severity=%s fix=%t", score, vuln.Severity, hasFix)
		}
		e.logger.Warn("alert policy matched",
			"vulnerability_id", vuln.ID,
			"severity", vuln.Severity,
			"score", score,
			"has_fix", hasFix,
			"expression", e.config.Expression)
	}

	return decision, nil
}

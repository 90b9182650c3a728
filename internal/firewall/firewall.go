// Package firewall implements the uniform content sanitisation/validation
// pipeline applied at both write time (field values) and emit time
// (template-emitted variables).
package firewall

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	coreerrors "github.com/ucgraph/core/pkg/errors"
	"github.com/ucgraph/core/pkg/logging"
	"github.com/ucgraph/core/pkg/ratelimit"
)

// Outcome is the result of running one rule.
type Outcome struct {
	Value   string
	Blocked bool
	Reason  string
	Rule    string
}

// Rule is one pipeline step. It receives the current string and the rule's
// parameter map and returns either a (possibly modified) Outcome or a
// blocked Outcome; rules are deterministic and side-effect-free on content.
type Rule interface {
	Name() string
	Apply(ctx context.Context, value string, params map[string]string) Outcome
}

// Policy controls how an external-provider timeout is handled.
type Policy string

const (
	PolicyBlock     Policy = "block"
	PolicyAlertOnly Policy = "alert_only"
)

// RuleBinding pairs a Rule with its parameters and policy for one
// field-type or template-key.
type RuleBinding struct {
	Rule     Rule
	Params   map[string]string
	Policy   Policy
	Enabled  bool
}

// Engine runs the rule pipeline for field-types and template-keys. The rule
// table is held behind an atomic pointer so ReplaceRules can swap it without
// blocking concurrent Apply calls (copy-on-write, matching the Registry's
// reload discipline).
type Engine struct {
	table   atomic.Pointer[map[string][]RuleBinding]
	log     *logging.Logger
	timeout time.Duration
	extLimiter *ratelimit.Limiter
}

// New builds an Engine with the built-in rules pre-registered under no
// keys; callers populate key bindings via ReplaceRules. External (sandboxed
// script) rules are additionally throttled by a token bucket so a
// misbehaving provider script can't be invoked at an unbounded rate.
func New(log *logging.Logger, externalTimeout time.Duration) *Engine {
	e := &Engine{log: log, timeout: externalTimeout, extLimiter: ratelimit.New(ratelimit.DefaultConfig())}
	empty := map[string][]RuleBinding{}
	e.table.Store(&empty)
	return e
}

// ReplaceRules atomically swaps the key->rule-bindings table.
func (e *Engine) ReplaceRules(table map[string][]RuleBinding) {
	cp := make(map[string][]RuleBinding, len(table))
	for k, v := range table {
		cp[k] = v
	}
	e.table.Store(&cp)
}

// Apply runs every enabled rule bound to key, in declaration order, against
// value. A Block short-circuits the pipeline. This implements P8 (firewall
// totality): the caller either gets a fully-applied chain or a single
// ContentRejected citing the blocking rule — there is no partial state.
func (e *Engine) Apply(ctx context.Context, key, value string) (string, error) {
	bindings := (*e.table.Load())[key]
	current := value
	for _, b := range bindings {
		if !b.Enabled {
			continue
		}
		outcome := e.applyOne(ctx, b, current)
		if outcome.Blocked {
			return "", coreerrors.NewContentRejected(outcome.Rule, outcome.Reason)
		}
		current = outcome.Value
	}
	return current, nil
}

func (e *Engine) applyOne(ctx context.Context, b RuleBinding, value string) Outcome {
	if _, external := b.Rule.(*ExternalRule); external {
		if err := e.extLimiter.Wait(ctx); err != nil {
			return Outcome{Blocked: true, Reason: "rate limited: " + err.Error(), Rule: b.Rule.Name()}
		}
	}

	type result struct {
		outcome Outcome
	}
	done := make(chan result, 1)
	go func() {
		done <- result{outcome: b.Rule.Apply(ctx, value, b.Params)}
	}()

	deadline := e.timeout
	if deadline <= 0 {
		deadline = 2 * time.Second
	}
	select {
	case r := <-done:
		return r.outcome
	case <-time.After(deadline):
		if b.Policy == PolicyAlertOnly {
			e.log.WithField("rule", b.Rule.Name()).Warn("external rule provider timed out, alert-only policy: passing")
			return Outcome{Value: value, Blocked: false}
		}
		return Outcome{Blocked: true, Reason: "timeout", Rule: b.Rule.Name()}
	case <-ctx.Done():
		return Outcome{Blocked: true, Reason: "cancelled", Rule: b.Rule.Name()}
	}
}

// ---- Built-in rules ----

// StripHTML removes all HTML tags except those named in Allowlist.
type StripHTML struct {
	Allowlist map[string]bool
}

func (StripHTML) Name() string { return "strip_html" }

var tagPattern = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)[^>]*>`)

func (r StripHTML) Apply(_ context.Context, value string, _ map[string]string) Outcome {
	out := tagPattern.ReplaceAllStringFunc(value, func(tag string) string {
		m := tagPattern.FindStringSubmatch(tag)
		if len(m) > 1 && r.Allowlist[strings.ToLower(m[1])] {
			return tag
		}
		return ""
	})
	return Outcome{Value: out}
}

// MaxLength soft-truncates above DefaultMax and hard-fails above HardLimit.
type MaxLength struct {
	DefaultMax int
	HardLimit  int
}

func (MaxLength) Name() string { return "max_length" }

func (r MaxLength) Apply(_ context.Context, value string, _ map[string]string) Outcome {
	if r.HardLimit > 0 && len(value) > r.HardLimit {
		return Outcome{Blocked: true, Reason: fmt.Sprintf("exceeds hard limit %d", r.HardLimit), Rule: r.Name()}
	}
	if r.DefaultMax > 0 && len(value) > r.DefaultMax {
		return Outcome{Value: value[:r.DefaultMax]}
	}
	return Outcome{Value: value}
}

// BlockedTagsAndSchemes rejects scripts, iframes and dangerous URL schemes.
type BlockedTagsAndSchemes struct{}

func (BlockedTagsAndSchemes) Name() string { return "no_script_tags" }

var blockedTagPattern = regexp.MustCompile(`(?i)<\s*(script|iframe)[^>]*>`)
var blockedSchemePattern = regexp.MustCompile(`(?i)^(javascript|vbscript|data):`)

func (r BlockedTagsAndSchemes) Apply(_ context.Context, value string, _ map[string]string) Outcome {
	if blockedTagPattern.MatchString(value) {
		return Outcome{Blocked: true, Reason: "blocked tag", Rule: r.Name()}
	}
	if blockedSchemePattern.MatchString(value) {
		return Outcome{Blocked: true, Reason: "blocked url scheme", Rule: r.Name()}
	}
	return Outcome{Value: value}
}

// EmailFormat validates value as an RFC-ish email address.
type EmailFormat struct{}

func (EmailFormat) Name() string { return "email_format" }

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func (r EmailFormat) Apply(_ context.Context, value string, _ map[string]string) Outcome {
	if !emailRe.MatchString(value) {
		return Outcome{Blocked: true, Reason: "invalid email", Rule: r.Name()}
	}
	return Outcome{Value: value}
}

// URLFormat validates value as a well-formed, non-dangerous URL.
type URLFormat struct{}

func (URLFormat) Name() string { return "url_format" }

func (r URLFormat) Apply(_ context.Context, value string, _ map[string]string) Outcome {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Outcome{Blocked: true, Reason: "invalid url", Rule: r.Name()}
	}
	if blockedSchemePattern.MatchString(value) {
		return Outcome{Blocked: true, Reason: "blocked url scheme", Rule: r.Name()}
	}
	return Outcome{Value: value}
}

// ExprRule evaluates a compiled expr-lang boolean expression against the
// candidate value and parameter bag; a false result blocks. This grounds
// regex/enum/range-style parameterised rules in the pack's expression
// engine instead of one-off Go code per rule shape.
type ExprRule struct {
	RuleName string
	program  *vm.Program
}

// NewExprRule compiles script once; script sees `value` (string) and
// `params` (map[string]string) and must return a bool.
func NewExprRule(name, script string) (*ExprRule, error) {
	program, err := expr.Compile(script, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, coreerrors.NewConfigError(fmt.Sprintf("firewall rule %q: bad expression", name), err)
	}
	return &ExprRule{RuleName: name, program: program}, nil
}

func (r *ExprRule) Name() string { return r.RuleName }

func (r *ExprRule) Apply(_ context.Context, value string, params map[string]string) Outcome {
	env := map[string]any{"value": value, "params": params}
	out, err := vm.Run(r.program, env)
	if err != nil {
		return Outcome{Blocked: true, Reason: "expression error: " + err.Error(), Rule: r.RuleName}
	}
	if pass, ok := out.(bool); ok && pass {
		return Outcome{Value: value}
	}
	return Outcome{Blocked: true, Reason: "expression rejected value", Rule: r.RuleName}
}

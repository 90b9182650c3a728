package firewall

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	coreerrors "github.com/ucgraph/core/pkg/errors"
)

// ExternalRule satisfies a rule via a sandboxed JS function, run fresh per
// call in its own goja.Runtime so provider scripts cannot retain state
// across values. The script must define a top-level function
// `evaluate(value, params)` returning `{pass, value, reason}`.
type ExternalRule struct {
	RuleName string
	Script   string
}

func (r *ExternalRule) Name() string { return r.RuleName }

func (r *ExternalRule) Apply(_ context.Context, value string, params map[string]string) Outcome {
	vm := goja.New()
	if _, err := vm.RunString(r.Script); err != nil {
		return Outcome{Blocked: true, Reason: "script load error: " + err.Error(), Rule: r.RuleName}
	}
	fn, ok := goja.AssertFunction(vm.Get("evaluate"))
	if !ok {
		return Outcome{Blocked: true, Reason: "script does not define evaluate()", Rule: r.RuleName}
	}
	paramsVal := make(map[string]any, len(params))
	for k, v := range params {
		paramsVal[k] = v
	}
	res, err := fn(goja.Undefined(), vm.ToValue(value), vm.ToValue(paramsVal))
	if err != nil {
		return Outcome{Blocked: true, Reason: "script runtime error: " + err.Error(), Rule: r.RuleName}
	}

	out, ok := res.Export().(map[string]any)
	if !ok {
		return Outcome{Blocked: true, Reason: "evaluate() must return an object", Rule: r.RuleName}
	}
	pass, _ := out["pass"].(bool)
	if !pass {
		reason, _ := out["reason"].(string)
		if reason == "" {
			reason = "rejected by external provider"
		}
		return Outcome{Blocked: true, Reason: reason, Rule: r.RuleName}
	}
	outVal, _ := out["value"].(string)
	if outVal == "" {
		outVal = value
	}
	return Outcome{Value: outVal}
}

// LoadExternalRule is a convenience constructor returning a CoreError on an
// obviously broken script (empty body) rather than deferring all the way
// to first call.
func LoadExternalRule(name, script string) (*ExternalRule, error) {
	if script == "" {
		return nil, coreerrors.NewConfigError(fmt.Sprintf("external rule %q: empty script", name), nil)
	}
	return &ExternalRule{RuleName: name, Script: script}, nil
}

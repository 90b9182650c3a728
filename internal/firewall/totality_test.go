package firewall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/ucgraph/core/pkg/errors"
	"github.com/ucgraph/core/pkg/logging"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	return New(logging.New("test", "error", "text"), 50*time.Millisecond)
}

// TestFirewallTotality exercises P8: a value either passes every bound rule
// and comes out the other side, or the pipeline blocks with a specific rule
// cite — no partial application is observable.
func TestFirewallTotality(t *testing.T) {
	e := testEngine(t)
	e.ReplaceRules(map[string][]RuleBinding{
		"hero-banner.title": {
			{Rule: BlockedTagsAndSchemes{}, Policy: PolicyBlock, Enabled: true},
			{Rule: MaxLength{DefaultMax: 100, HardLimit: 200}, Policy: PolicyBlock, Enabled: true},
		},
	})

	out, err := e.Apply(context.Background(), "hero-banner.title", "hello world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	_, err = e.Apply(context.Background(), "hero-banner.title", "<script>x</script>")
	require.Error(t, err)
	var ce *coreerrors.CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, coreerrors.ContentRejected, ce.Category)
}

func TestFirewallDisabledRuleSkipped(t *testing.T) {
	e := testEngine(t)
	e.ReplaceRules(map[string][]RuleBinding{
		"field": {
			{Rule: BlockedTagsAndSchemes{}, Policy: PolicyBlock, Enabled: false},
		},
	})
	out, err := e.Apply(context.Background(), "field", "<script>x</script>")
	require.NoError(t, err)
	assert.Equal(t, "<script>x</script>", out)
}

func TestFirewallUnboundKeyPassesThrough(t *testing.T) {
	e := testEngine(t)
	out, err := e.Apply(context.Background(), "no-such-key", "value")
	require.NoError(t, err)
	assert.Equal(t, "value", out)
}

func TestMaxLengthHardLimitBlocks(t *testing.T) {
	r := MaxLength{DefaultMax: 5, HardLimit: 10}
	out := r.Apply(context.Background(), "01234567890123", nil)
	assert.True(t, out.Blocked)
}

func TestMaxLengthSoftTruncates(t *testing.T) {
	r := MaxLength{DefaultMax: 5, HardLimit: 100}
	out := r.Apply(context.Background(), "0123456789", nil)
	assert.False(t, out.Blocked)
	assert.Equal(t, "01234", out.Value)
}

func TestExprRuleBlocksOnFalse(t *testing.T) {
	rule, err := NewExprRule("even_length", "len(value) % 2 == 0")
	require.NoError(t, err)

	out := rule.Apply(context.Background(), "abc", nil)
	assert.True(t, out.Blocked)

	out = rule.Apply(context.Background(), "abcd", nil)
	assert.False(t, out.Blocked)
}

func TestEmailFormat(t *testing.T) {
	r := EmailFormat{}
	assert.True(t, r.Apply(context.Background(), "not-an-email", nil).Blocked)
	assert.False(t, r.Apply(context.Background(), "a@b.com", nil).Blocked)
}

package configstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucgraph/core/internal/firewall"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadBuildsRegistryAndFirewallTable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "types.csv", "type,routable,navigable,max_nesting_depth,fields,css_control_fields,description\n"+
		"page,true,true,,title:String(required);body:String(),,\n")
	writeFile(t, dir, "firewall.csv", "name,enabled,kind,applies_to,parameters\n"+
		"no_script,true,no_script_tags,page.body,\n"+
		"length_cap,true,max_length,page.title,default_max=100;hard_limit=200\n")

	bundle, diags, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, diags)

	reg, err := bundle.BuildRegistry()
	require.NoError(t, err)
	assert.NotNil(t, reg.Definition("page"))

	table, err := bundle.BuildFirewallTable()
	require.NoError(t, err)
	require.Len(t, table["page.body"], 1)
	assert.Equal(t, "no_script_tags", table["page.body"][0].Rule.Name())
	require.Len(t, table["page.title"], 1)
	assert.Equal(t, "max_length", table["page.title"][0].Rule.Name())
}

// TestBuildRegistrySearchableMarkerKeepsCleanFieldKey exercises the CS
// searchable-field convention (DESIGN.md internal/registry): a trailing '*' in the
// fields cell marks a field searchable but must not survive into the
// field's actual schema key, or validation for that field (required or
// otherwise) would never match the real field map.
func TestBuildRegistrySearchableMarkerKeepsCleanFieldKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "types.csv", "type,routable,navigable,max_nesting_depth,fields,css_control_fields,description\n"+
		"page,true,true,,title*:String(required);body:String(),,\n")

	bundle, diags, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, diags)

	reg, err := bundle.BuildRegistry()
	require.NoError(t, err)

	def := reg.Definition("page")
	require.NotNil(t, def)
	assert.True(t, def.Searchable)
	assert.Contains(t, def.Indexable, "title")
	assert.Contains(t, def.Required, "title")
	require.Contains(t, def.Fields, "title")
	assert.NotContains(t, def.Fields, "title*")

	require.NoError(t, reg.Validate("page", map[string]any{"title": "hello"}))
	assert.Error(t, reg.Validate("page", map[string]any{}), "required field title must still be enforced")
}

func TestBuildFirewallTableUnknownKindErrors(t *testing.T) {
	bundle := &ConfigBundle{
		FirewallRules: []FirewallRuleRow{
			{Name: "bogus", Enabled: true, Kind: "not_a_real_kind", AppliesTo: "page.title"},
		},
	}
	_, err := bundle.BuildFirewallTable()
	require.Error(t, err)
}

func TestBuildFirewallTableDisabledRowStillBound(t *testing.T) {
	bundle := &ConfigBundle{
		FirewallRules: []FirewallRuleRow{
			{Name: "r", Enabled: false, Kind: "email_format", AppliesTo: "user.email"},
		},
	}
	table, err := bundle.BuildFirewallTable()
	require.NoError(t, err)
	require.Len(t, table["user.email"], 1)
	assert.False(t, table["user.email"][0].Enabled)
}

func TestBuildFirewallTableAlertOnlyPolicy(t *testing.T) {
	bundle := &ConfigBundle{
		FirewallRules: []FirewallRuleRow{
			{Name: "r", Enabled: true, Kind: "url_format", AppliesTo: "page.link", Parameters: map[string]string{"policy": "alert_only"}},
		},
	}
	table, err := bundle.BuildFirewallTable()
	require.NoError(t, err)
	require.Len(t, table["page.link"], 1)
	assert.Equal(t, firewall.PolicyAlertOnly, table["page.link"][0].Policy)
}

package tasktemplate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuiltinCatalog(t *testing.T) {
	c := Builtin()

	require.Equal(t, "startup-analysis", c.DefaultID())
	require.Equal(t, []string{"competitor-analysis", "market-analysis", "startup-analysis", "vc-analysis"}, c.IDs())
	require.Equal(t, "Agent Studio", c.App().Name)
	require.Equal(t, "AI Automation Made Simple", c.App().Tagline)

	startup := c.Get("startup-analysis")
	require.Equal(t, 150, startup.MaxSteps)
	require.Equal(t, "gpt-4o", startup.LLMModel)
	require.Equal(t, 100, c.Get("vc-analysis").MaxSteps)
	require.Equal(t, 120, c.Get("competitor-analysis").MaxSteps)
	require.Equal(t, 100, c.Get("market-analysis").MaxSteps)
}

func TestGetFallsBackToDefault(t *testing.T) {
	c := Builtin()
	require.Equal(t, "startup-analysis", c.Get("").ID)
	require.Equal(t, "startup-analysis", c.Get("does-not-exist").ID)
	require.False(t, c.Has("does-not-exist"))
	require.True(t, c.Has(" vc-analysis "))
}

func TestBuildPrompt(t *testing.T) {
	tpl := Builtin().Get("vc-analysis")

	withSite := BuildPrompt(tpl, "Sequoia", "sequoiacap.com")
	require.True(t, strings.HasPrefix(withSite, `Analyze the venture capital fund "Sequoia" (website: sequoiacap.com). Focus on:`))

	withoutSite := BuildPrompt(tpl, " Sequoia ", "  ")
	require.True(t, strings.HasPrefix(withoutSite, `Analyze the venture capital fund "Sequoia". Focus on:`))
	require.NotContains(t, withoutSite, "{websiteContext}")
}

func TestStructuredOutputJSON(t *testing.T) {
	c := Builtin()

	none, err := StructuredOutputJSON(c.Get("vc-analysis"))
	require.NoError(t, err)
	require.Nil(t, none)

	schema, err := StructuredOutputJSON(c.Get("startup-analysis"))
	require.NoError(t, err)
	require.NotNil(t, schema)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(*schema), &decoded))
	props := decoded["properties"].(map[string]any)
	require.Contains(t, props, "company_overview")
	require.Contains(t, props, "funding_summary")
	require.Contains(t, props, "team_summary")
	require.Contains(t, props, "market_analysis")
}

func TestParseRejectsBadCatalogues(t *testing.T) {
	_, err := Parse([]byte("templates: []"))
	require.Error(t, err)

	_, err = Parse([]byte("default: missing\ntemplates:\n  - id: a\n    prompt: \"{companyName}\"\n"))
	require.ErrorContains(t, err, "default")

	_, err = Parse([]byte("templates:\n  - id: a\n    prompt: no placeholder\n"))
	require.ErrorContains(t, err, "{companyName}")

	c, err := Parse([]byte("templates:\n  - id: only\n    prompt: \"Look at {companyName}\"\n"))
	require.NoError(t, err)
	require.Equal(t, "only", c.DefaultID())
}

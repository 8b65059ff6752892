package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/imageopt"
)

func defaultRules(t *testing.T) *RuleSet {
	t.Helper()
	rs, err := Compile(config.Default().Rules)
	require.NoError(t, err)
	return rs
}

func TestDefaultRules_exactlyOneChainPerExtension(t *testing.T) {
	rs := defaultRules(t)

	tests := []struct {
		path  string
		rule  string
		class Class
	}{
		{path: "src/index.js", rule: "scripts", class: ClassScript},
		{path: "src/components/Hello.jsx", rule: "scripts", class: ClassScript},
		{path: "src/util.mjs", rule: "scripts", class: ClassScript},
		{path: "src/legacy.cjs", rule: "scripts", class: ClassScript},
		{path: "src/app.ts", rule: "scripts", class: ClassScript},
		{path: "src/App.tsx", rule: "scripts", class: ClassScript},
		{path: "node_modules/react/index.js", rule: "vendor", class: ClassPassthrough},
		{path: "node_modules/react/cjs/react.development.js", rule: "vendor", class: ClassPassthrough},
		{path: "node_modules/react/package.json", rule: "data", class: ClassPassthrough},
		{path: "src/data.json", rule: "data", class: ClassPassthrough},
		{path: "src/styles/index.css", rule: "styles", class: ClassStyle},
		{path: "node_modules/normalize.css/normalize.css", rule: "styles", class: ClassStyle},
		{path: "src/assets/chess.jpg", rule: "images", class: ClassImage},
		{path: "src/assets/chess.JPEG", rule: "images", class: ClassImage},
		{path: "src/assets/logo.png", rule: "images", class: ClassImage},
		{path: "src/assets/spinner.gif", rule: "images", class: ClassImage},
		{path: "src/assets/icon.svg", rule: "images", class: ClassImage},
		{path: "src/fonts/inter.woff2", rule: "fonts", class: ClassResource},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			matched := 0
			for _, r := range rs.Rules() {
				if r.Matches(tt.path) {
					matched++
				}
			}
			require.Equal(t, 1, matched, "exactly one rule must claim %s", tt.path)

			rule, err := rs.Match(tt.path)
			require.NoError(t, err)
			require.Equal(t, tt.rule, rule.Name)
			require.Equal(t, tt.class, rule.Class)
		})
	}
}

func TestMatch_noRule(t *testing.T) {
	rs := defaultRules(t)

	_, err := rs.Match("src/readme.md")
	require.ErrorIs(t, err, ErrNoRule)
	require.Contains(t, err.Error(), "src/readme.md")
}

func TestMatch_windowsSeparators(t *testing.T) {
	rs := defaultRules(t)

	rule, err := rs.Match(`node_modules\react\index.js`)
	require.NoError(t, err)
	require.Equal(t, "vendor", rule.Name)
}

func TestMatch_firstRuleWins(t *testing.T) {
	rs, err := Compile([]config.Rule{
		{Name: "inline-svg", Test: `icons/.+\.svg$`, Class: "resource", Steps: []string{"emit"}},
		{Name: "images", Test: `\.svg$`, Class: "image", Steps: []string{"optimize", "emit"}},
	})
	require.NoError(t, err)

	rule, err := rs.Match("src/icons/close.svg")
	require.NoError(t, err)
	require.Equal(t, "inline-svg", rule.Name)

	rule, err = rs.Match("src/logo.svg")
	require.NoError(t, err)
	require.Equal(t, "images", rule.Name)
	require.True(t, rule.Has(StepOptimize))
	require.False(t, rule.Has(StepWebP))
	require.Equal(t, imageopt.DefaultOptions(), rule.Image)
}

func TestCompile_invalid(t *testing.T) {
	tests := []struct {
		name  string
		rules []config.Rule
	}{
		{name: "empty", rules: nil},
		{name: "missing test", rules: []config.Rule{{Name: "a", Class: "passthrough"}}},
		{name: "bad regexp", rules: []config.Rule{{Name: "a", Test: `(`, Class: "passthrough"}}},
		{name: "bad exclude", rules: []config.Rule{{Name: "a", Test: `x`, Exclude: `[`, Class: "passthrough"}}},
		{name: "unknown class", rules: []config.Rule{{Name: "a", Test: `x`, Class: "font"}}},
		{name: "unknown step", rules: []config.Rule{{Name: "a", Test: `x`, Class: "script", Steps: []string{"babel"}}}},
		{name: "step for another class", rules: []config.Rule{{Name: "a", Test: `x`, Class: "script", Steps: []string{"emit"}}}},
		{name: "style without extract", rules: []config.Rule{{Name: "a", Test: `x`, Class: "style", Steps: []string{"css"}}}},
		{name: "image without emit", rules: []config.Rule{{Name: "a", Test: `x`, Class: "image", Steps: []string{"optimize"}}}},
		{name: "out of order", rules: []config.Rule{{Name: "a", Test: `x`, Class: "image", Steps: []string{"emit", "optimize"}}}},
		{name: "repeated", rules: []config.Rule{{Name: "a", Test: `x`, Class: "style", Steps: []string{"css", "css", "extract"}}}},
		{name: "duplicate names", rules: []config.Rule{
			{Name: "a", Test: `x`, Class: "passthrough"},
			{Name: "a", Test: `y`, Class: "passthrough"},
		}},
		{name: "invalid image options", rules: []config.Rule{
			{Name: "a", Test: `x`, Class: "image", Steps: []string{"emit"}, Image: &imageopt.Options{}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.rules)
			require.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

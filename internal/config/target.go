package config

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

var targets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"es2023": api.ES2023,
	"es2024": api.ES2024,
	"esnext": api.ESNext,
}

// ParseTarget maps a language target such as "es2020" to the bundler's
// constant. An empty target means esnext.
func ParseTarget(target string) (api.Target, error) {
	if target == "" {
		return api.ESNext, nil
	}

	t, ok := targets[strings.ToLower(target)]
	if !ok {
		return api.DefaultTarget, fmt.Errorf("unsupported target %q", target)
	}
	return t, nil
}

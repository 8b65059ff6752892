// Package rules classifies source files into asset classes using an ordered
// list of (predicate, chain) pairs. The first rule whose test matches and
// whose exclusion does not wins, so dependency-directory exclusions must be
// listed before the generic rules that would otherwise claim those files.
package rules

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/imageopt"
)

var (
	// ErrNoRule indicates no rule matches a file reachable from the entry
	ErrNoRule = errors.New("no rule matches file")
	// ErrInvalidRule indicates a rule failed to compile
	ErrInvalidRule = errors.New("invalid rule")
)

type Class string

const (
	ClassScript      Class = "script"
	ClassStyle       Class = "style"
	ClassImage       Class = "image"
	ClassResource    Class = "resource"
	ClassPassthrough Class = "passthrough"
)

type Step string

const (
	StepTranspile Step = "transpile"
	StepCSS       Step = "css"
	StepExtract   Step = "extract"
	StepOptimize  Step = "optimize"
	StepWebP      Step = "webp"
	StepEmit      Step = "emit"
)

// classSteps lists the steps each class accepts, in the order they run.
var classSteps = map[Class][]Step{
	ClassScript:      {StepTranspile},
	ClassStyle:       {StepCSS, StepExtract},
	ClassImage:       {StepOptimize, StepWebP, StepEmit},
	ClassResource:    {StepEmit},
	ClassPassthrough: {},
}

// requiredSteps must appear in every chain of the class.
var requiredSteps = map[Class][]Step{
	ClassStyle:    {StepExtract},
	ClassImage:    {StepEmit},
	ClassResource: {StepEmit},
}

type Rule struct {
	Name    string
	Test    *regexp.Regexp
	Exclude *regexp.Regexp
	Class   Class
	Steps   []Step
	Image   imageopt.Options
}

// Matches reports whether path, relative to the project root, is claimed by
// the rule.
func (r *Rule) Matches(path string) bool {
	path = normalize(path)
	if !r.Test.MatchString(path) {
		return false
	}
	return r.Exclude == nil || !r.Exclude.MatchString(path)
}

// Has reports whether the chain includes step.
func (r *Rule) Has(step Step) bool {
	return slices.Contains(r.Steps, step)
}

type RuleSet struct {
	rules []*Rule
}

// Compile validates and compiles the declarative rules, preserving order.
func Compile(specs []config.Rule) (*RuleSet, error) {
	rs := &RuleSet{}
	seen := map[string]bool{}

	for i, spec := range specs {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("rule[%d]", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate rule name %q", ErrInvalidRule, name)
		}
		seen[name] = true

		rule, err := compileRule(name, spec)
		if err != nil {
			return nil, err
		}
		rs.rules = append(rs.rules, rule)
	}

	if len(rs.rules) == 0 {
		return nil, fmt.Errorf("%w: no rules", ErrInvalidRule)
	}

	return rs, nil
}

func compileRule(name string, spec config.Rule) (*Rule, error) {
	if spec.Test == "" {
		return nil, fmt.Errorf("%w: %s: test is required", ErrInvalidRule, name)
	}

	test, err := regexp.Compile(spec.Test)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: test: %w", ErrInvalidRule, name, err)
	}

	var exclude *regexp.Regexp
	if spec.Exclude != "" {
		exclude, err = regexp.Compile(spec.Exclude)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: exclude: %w", ErrInvalidRule, name, err)
		}
	}

	class := Class(spec.Class)
	allowed, ok := classSteps[class]
	if !ok {
		return nil, fmt.Errorf("%w: %s: unknown class %q", ErrInvalidRule, name, spec.Class)
	}

	steps := make([]Step, 0, len(spec.Steps))
	last := -1
	for _, s := range spec.Steps {
		step := Step(s)
		idx := slices.Index(allowed, step)
		if idx == -1 {
			return nil, fmt.Errorf("%w: %s: step %q is not valid for class %s", ErrInvalidRule, name, s, class)
		}
		if idx <= last {
			return nil, fmt.Errorf("%w: %s: step %q is repeated or out of order", ErrInvalidRule, name, s)
		}
		last = idx
		steps = append(steps, step)
	}

	for _, req := range requiredSteps[class] {
		if !slices.Contains(steps, req) {
			return nil, fmt.Errorf("%w: %s: %s chains must include %q", ErrInvalidRule, name, class, req)
		}
	}

	image := imageopt.DefaultOptions()
	if spec.Image != nil {
		image = *spec.Image
	}
	if class == ClassImage {
		if err := image.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRule, name, err)
		}
	}

	return &Rule{
		Name:    name,
		Test:    test,
		Exclude: exclude,
		Class:   class,
		Steps:   steps,
		Image:   image,
	}, nil
}

// Match returns the first rule claiming path, or ErrNoRule.
func (rs *RuleSet) Match(path string) (*Rule, error) {
	for _, r := range rs.rules {
		if r.Matches(path) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoRule, normalize(path))
}

// normalize converts both separator styles to forward slashes so patterns
// are written once for every platform.
func normalize(path string) string {
	return strings.ReplaceAll(filepath.ToSlash(path), `\`, "/")
}

// Rules returns the compiled rules in evaluation order.
func (rs *RuleSet) Rules() []*Rule {
	return slices.Clone(rs.rules)
}

package assets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

var (
	// ErrNotBuilt indicates an accessor was called before a successful build
	ErrNotBuilt = errors.New("assets not built yet, call Build() first")
	// ErrEntryOutputMissing indicates the bundler produced no script for the entry
	ErrEntryOutputMissing = errors.New("entrypoint not found in metadata")
)

// Diagnostic is a single build failure tied to the file that caused it.
type Diagnostic struct {
	File   string
	Line   int
	Column int
	Text   string
	Plugin string
}

func (d Diagnostic) String() string {
	loc := d.File
	if loc == "" {
		loc = "<build>"
	}
	if d.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", loc, d.Line, d.Column)
	}
	return loc + ": " + d.Text
}

// BuildError aborts a build. It carries every diagnostic the bundler and the
// transformation chains reported, and unwraps to the underlying causes so
// callers can test for rules.ErrNoRule and friends with errors.Is.
type BuildError struct {
	Diagnostics []Diagnostic
	causes      []error
}

func (e *BuildError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "build failed with %d error(s)", len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		sb.WriteString("\n  ")
		sb.WriteString(d.String())
	}
	return sb.String()
}

func (e *BuildError) Unwrap() []error {
	return e.causes
}

// Files returns the offending files in report order without duplicates.
func (e *BuildError) Files() []string {
	seen := map[string]bool{}
	var files []string
	for _, d := range e.Diagnostics {
		if d.File == "" || seen[d.File] {
			continue
		}
		seen[d.File] = true
		files = append(files, d.File)
	}
	return files
}

func newBuildError(msgs []api.Message, causes []error) *BuildError {
	be := &BuildError{causes: causes}

	for _, msg := range msgs {
		d := Diagnostic{Text: msg.Text, Plugin: msg.PluginName}
		if msg.Location != nil {
			d.File = msg.Location.File
			d.Line = msg.Location.Line
			d.Column = msg.Location.Column
		}
		be.Diagnostics = append(be.Diagnostics, d)

		if err, ok := msg.Detail.(error); ok {
			be.causes = append(be.causes, err)
		}
	}

	return be
}

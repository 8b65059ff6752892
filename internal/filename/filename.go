// Package filename renders output filename templates such as
// "images/[name]-[hash][ext][query]" and computes the content hashes used for
// cache busting.
package filename

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/minio/crc64nvme"
)

// HashLength is the number of hex characters in a full content hash.
const HashLength = 16

var (
	// ErrUnknownToken indicates a template references a token that cannot be substituted
	ErrUnknownToken = errors.New("unknown filename token")
	// ErrUnresolvedToken indicates a rendered name still contains token text
	ErrUnresolvedToken = errors.New("unresolved filename token")
)

var tokenPattern = regexp.MustCompile(`\[([a-z]+)(?::(\d+))?\]`)

var knownTokens = map[string]bool{
	"name":        true,
	"ext":         true,
	"hash":        true,
	"contenthash": true,
	"query":       true,
}

// Template is a parsed filename template.
type Template struct {
	raw string
}

// Vars are the values substituted into a template.
type Vars struct {
	// Name is the base name without extension
	Name string
	// Ext includes the leading dot
	Ext string
	// Query is either empty or starts with "?"
	Query string
	// Content is hashed for [hash] and [contenthash]
	Content []byte
}

// Parse validates every token in raw.
func Parse(raw string) (*Template, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty template", ErrUnknownToken)
	}

	for _, m := range tokenPattern.FindAllStringSubmatch(raw, -1) {
		if !knownTokens[m[1]] {
			return nil, fmt.Errorf("%w: [%s] in %q", ErrUnknownToken, m[1], raw)
		}
		if m[2] == "" {
			continue
		}
		if m[1] != "hash" && m[1] != "contenthash" {
			return nil, fmt.Errorf("%w: [%s] does not take a length", ErrUnknownToken, m[1])
		}
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 1 || n > HashLength {
			return nil, fmt.Errorf("%w: hash length must be between 1 and %d in %q", ErrUnknownToken, HashLength, raw)
		}
	}

	if err := CheckResolved(tokenPattern.ReplaceAllString(raw, "")); err != nil {
		return nil, fmt.Errorf("%w: malformed token in %q", ErrUnknownToken, raw)
	}

	return &Template{raw: raw}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(raw string) *Template {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Template) String() string {
	return t.raw
}

// Render substitutes vars into the template. Every token was validated by
// Parse, so only text taken from vars can contain brackets, and that is kept
// as is.
func (t *Template) Render(vars Vars) (string, error) {
	var hash string
	if strings.Contains(t.raw, "hash") {
		hash = ContentHash(vars.Content)
	}

	out := tokenPattern.ReplaceAllStringFunc(t.raw, func(tok string) string {
		m := tokenPattern.FindStringSubmatch(tok)
		switch m[1] {
		case "name":
			return vars.Name
		case "ext":
			return vars.Ext
		case "query":
			return vars.Query
		case "hash", "contenthash":
			if m[2] != "" {
				n, _ := strconv.Atoi(m[2])
				return hash[:n]
			}
			return hash
		}
		return tok
	})

	return out, nil
}

// Has reports whether the template uses any of the given tokens, with or
// without a length.
func (t *Template) Has(tokens ...string) bool {
	for _, m := range tokenPattern.FindAllStringSubmatch(t.raw, -1) {
		for _, tok := range tokens {
			if m[1] == tok {
				return true
			}
		}
	}
	return false
}

// ContentHash returns the CRC-64/NVME digest of b as 16 hex characters.
func ContentHash(b []byte) string {
	h := crc64nvme.New()
	_, _ = h.Write(b)
	return fmt.Sprintf("%016x", h.Sum64())
}

// CheckResolved returns ErrUnresolvedToken if name still contains a
// "[token]" sequence.
func CheckResolved(name string) error {
	open := strings.IndexByte(name, '[')
	if open == -1 {
		return nil
	}
	if strings.IndexByte(name[open:], ']') != -1 {
		return fmt.Errorf("%w: %q", ErrUnresolvedToken, name)
	}
	return nil
}

// ValidateTokens checks raw only uses the allowed tokens. It is used for
// templates rendered by the bundler rather than by Render.
func ValidateTokens(raw string, allowed ...string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty template", ErrUnknownToken)
	}

	for _, m := range tokenPattern.FindAllStringSubmatch(raw, -1) {
		ok := false
		for _, a := range allowed {
			if m[1] == a && m[2] == "" {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: %s in %q", ErrUnknownToken, m[0], raw)
		}
	}
	return nil
}

// SplitQuery separates a rendered name into the on-disk path and the query
// suffix that only belongs in the URL.
func SplitQuery(name string) (path, query string) {
	if i := strings.IndexAny(name, "?#"); i != -1 {
		return name[:i], name[i:]
	}
	return name, ""
}

// SplitExt returns the base name without extension and the extension with its
// leading dot.
func SplitExt(base string) (name, ext string) {
	i := strings.LastIndexByte(base, '.')
	if i <= 0 {
		return base, ""
	}
	return base[:i], base[i:]
}

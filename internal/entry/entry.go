// Package entry resolves the application's single entry module and HTML
// template, and verifies the template carries the node the application
// mounts into. Every failure here is fatal to the build.
package entry

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/wolfeidau/assetpipe/internal/config"
	"golang.org/x/net/html"
)

var (
	// ErrEntryNotFound indicates the entry module does not exist
	ErrEntryNotFound = errors.New("entry module not found")
	// ErrTemplateNotFound indicates the HTML template does not exist
	ErrTemplateNotFound = errors.New("html template not found")
	// ErrMountNotFound indicates the template has no element with the mount id
	ErrMountNotFound = errors.New("mount node not found in template")
)

// MountDefine is the compile-time constant the bundle reads the mount node id
// from.
const MountDefine = "__MOUNT_ID__"

type Entry struct {
	// Name of the output bundle
	Name string
	// Module is the absolute path of the root source file
	Module string
	// Template is the absolute path of the HTML template
	Template string
	// Source is the template contents
	Source []byte
	MountID string
	Title   string
}

// Resolve locates the entry module and template described by cfg.
func Resolve(cfg *config.Config) (*Entry, error) {
	module := cfg.Abs(cfg.Entry.Module)
	if err := requireFile(module); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEntryNotFound, cfg.Entry.Module, err)
	}

	template := cfg.Abs(cfg.Entry.Template)
	if err := requireFile(template); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTemplateNotFound, cfg.Entry.Template, err)
	}

	source, err := os.ReadFile(template) // #nosec G304 - path comes from the build config
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}

	doc, err := html.Parse(bytes.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", cfg.Entry.Template, err)
	}

	if FindByID(doc, cfg.Entry.MountID) == nil {
		return nil, fmt.Errorf("%w: no element with id %q in %s", ErrMountNotFound, cfg.Entry.MountID, cfg.Entry.Template)
	}

	return &Entry{
		Name:     cfg.Entry.Name,
		Module:   module,
		Template: template,
		Source:   source,
		MountID:  cfg.Entry.MountID,
		Title:    cfg.Entry.Title,
	}, nil
}

// Defines returns the compile-time constants wired into the bundle.
func (e *Entry) Defines(production bool) map[string]string {
	env := "development"
	if production {
		env = "production"
	}

	return map[string]string{
		"process.env.NODE_ENV": strconv.Quote(env),
		MountDefine:            strconv.Quote(e.MountID),
	}
}

// FindByID walks the tree depth first and returns the first element with the
// given id.
func FindByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Namespace == "" && a.Key == "id" && a.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := FindByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.New("is a directory")
	}
	return nil
}

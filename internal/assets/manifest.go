package assets

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/mr-tron/base58"
)

// Manifest records everything a build emitted. It carries no timestamps or
// build ids so identical inputs give an identical manifest.
type Manifest struct {
	Entry string `json:"entry"`
	// HTML is the document file name relative to the output directory
	HTML      string   `json:"html"`
	Scripts   []string `json:"scripts"`
	Styles    []string `json:"styles"`
	Images    []*Asset `json:"images"`
	Resources []*Asset `json:"resources"`
	// Files lists every file in the output directory except the manifest
	Files       []string `json:"files"`
	Fingerprint string   `json:"fingerprint"`
}

// Image returns the emitted image for a project relative source path.
func (m *Manifest) Image(source string) (*Asset, bool) {
	for _, a := range m.Images {
		if a.Source == source {
			return a, true
		}
	}
	return nil, false
}

// listFiles returns the slash separated paths of every regular file under dir.
func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list output files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// fingerprint digests the names and contents of files under dir in order.
func fingerprint(dir string, files []string) (string, error) {
	h := sha256.New()
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name))) // #nosec G304 - listed from the staging directory
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		fmt.Fprintf(h, "%s\x00%d\x00", name, len(data))
		h.Write(data)
	}
	return base58.Encode(h.Sum(nil)), nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644) // #nosec G306 - build output
}

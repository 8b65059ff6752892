package devserver

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIgnoreFunc(t *testing.T) {
	root := filepath.FromSlash("/project")
	ignore := ignoreFunc(root, filepath.Join(root, "dist"))

	tests := []struct {
		path string
		want bool
	}{
		{path: "src/index.js", want: false},
		{path: "src/assets/chess.jpg", want: false},
		{path: "node_modules/react/index.js", want: true},
		{path: "src/node_modules/x.js", want: true},
		{path: ".git/HEAD", want: true},
		{path: ".assetpipe-123/main.js", want: true},
		{path: "src/.index.js.swp", want: true},
		{path: "dist", want: true},
		{path: "dist/main.js", want: true},
		{path: "distribution/notes.js", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			require.Equal(t, tt.want, ignore(filepath.Join(root, filepath.FromSlash(tt.path))))
		})
	}

	require.False(t, ignore(root))
}

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) add(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) seen(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.paths {
		if p == path {
			return true
		}
	}
	return false
}

func TestWatcher_reportsChangesRecursively(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "styles"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "react"), 0o750))

	w, err := newWatcher(root, ignoreFunc(root))
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	go w.run(ctx, rec.add)

	nested := filepath.Join(root, "src", "styles", "index.css")
	require.NoError(t, os.WriteFile(nested, []byte("body{}"), 0o600))
	require.Eventually(t, func() bool { return rec.seen(nested) }, 5*time.Second, 10*time.Millisecond)

	// directories created after start are picked up
	fresh := filepath.Join(root, "src", "components")
	require.NoError(t, os.Mkdir(fresh, 0o750))
	require.Eventually(t, func() bool { return rec.seen(fresh) }, 5*time.Second, 10*time.Millisecond)

	inFresh := filepath.Join(fresh, "Board.js")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(inFresh, []byte("export default 1"), 0o600)
		return rec.seen(inFresh)
	}, 5*time.Second, 50*time.Millisecond)

	vendored := filepath.Join(root, "node_modules", "react", "index.js")
	require.NoError(t, os.WriteFile(vendored, []byte("x"), 0o600))
	time.Sleep(100 * time.Millisecond)
	require.False(t, rec.seen(vendored))
}

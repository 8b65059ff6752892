package devserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/assetpipe/internal/assets"
	"github.com/wolfeidau/assetpipe/internal/config"
)

type fakeBuilder struct {
	mu     sync.Mutex
	builds int
	errs   []error
}

func (f *fakeBuilder) Build(ctx context.Context) (*assets.Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.builds
	f.builds++
	if n < len(f.errs) && f.errs[n] != nil {
		return nil, f.errs[n]
	}
	return &assets.Manifest{Fingerprint: "fp"}, nil
}

func (f *fakeBuilder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.DevServer.Listen = "127.0.0.1:0"
	cfg.DevServer.Open = false
	cfg.DevServer.Debounce = 20 * time.Millisecond

	require.NoError(t, os.MkdirAll(cfg.Abs("src"), 0o750))
	require.NoError(t, os.MkdirAll(cfg.Abs("dist"), 0o750))
	require.NoError(t, os.WriteFile(cfg.Abs("dist/index.html"), []byte("<html>"+strings.Repeat("chess ", 500)+"</html>"), 0o600))
	return cfg
}

func TestHandler_servesStatic(t *testing.T) {
	cfg := testConfig(t)
	srv := httptest.NewServer(New(cfg, &fakeBuilder{}).Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")

	// the default transport transparently decodes gzip only when it asked for it
	resp, err := srv.Client().Transport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestHandler_cors(t *testing.T) {
	cfg := testConfig(t)
	cfg.DevServer.CORSOrigins = []string{"http://example.test"}
	srv := httptest.NewServer(New(cfg, &fakeBuilder{}).Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/index.html", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.test")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "http://example.test", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHandler_noSocketWithoutHot(t *testing.T) {
	cfg := testConfig(t)
	cfg.DevServer.Hot = false
	srv := httptest.NewServer(New(cfg, &fakeBuilder{}).Handler())
	defer srv.Close()

	_, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+ReloadPath, nil)
	require.Error(t, err)
}

func TestRun_initialBuildFailure(t *testing.T) {
	cfg := testConfig(t)
	boom := errors.New("boom")

	err := New(cfg, &fakeBuilder{errs: []error{boom}}).Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func startServer(t *testing.T, s *Server) (cancel func(), done <-chan error) {
	t.Helper()

	ctx, cancelFn := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	return cancelFn, errCh
}

func TestRun_rebuildsAndReloads(t *testing.T) {
	cfg := testConfig(t)
	builder := &fakeBuilder{}
	s := New(cfg, builder)

	cancel, done := startServer(t, s)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+ReloadPath, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr().String() + "/index.html")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), "chess")

	require.NoError(t, os.WriteFile(cfg.Abs("src/index.js"), []byte("console.log(1)"), 0o600))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, ReloadMessage, string(msg))
	require.GreaterOrEqual(t, builder.count(), 2)

	cancel()
	require.NoError(t, <-done)
}

func TestRun_failedRebuildDoesNotReload(t *testing.T) {
	cfg := testConfig(t)
	builder := &fakeBuilder{errs: []error{nil, errors.New("syntax error")}}
	s := New(cfg, builder)

	cancel, done := startServer(t, s)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+ReloadPath, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(cfg.Abs("src/index.js"), []byte("const = ;"), 0o600))
	require.Eventually(t, func() bool { return builder.count() == 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	cancel()
	require.NoError(t, <-done)
}

func TestRun_opensBrowser(t *testing.T) {
	cfg := testConfig(t)
	cfg.DevServer.Open = true

	var opened atomic.Value
	s := New(cfg, &fakeBuilder{}, WithOpener(func(url string) error {
		opened.Store(url)
		return nil
	}))

	cancel, done := startServer(t, s)

	require.Eventually(t, func() bool { return opened.Load() != nil }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "http://"+s.Addr().String()+"/", opened.Load())

	cancel()
	require.NoError(t, <-done)
}

func TestRun_ignoresOutputDirectory(t *testing.T) {
	cfg := testConfig(t)
	builder := &fakeBuilder{}
	s := New(cfg, builder)

	cancel, done := startServer(t, s)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Abs("dist"), "main.js"), []byte("x"), 0o600))
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 1, builder.count())

	cancel()
	require.NoError(t, <-done)
}

// Package devserver serves the build output, rebuilds it when sources change
// and tells connected browsers to reload.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/pkg/browser"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/assetpipe/internal/assets"
	"github.com/wolfeidau/assetpipe/internal/config"
	httpmiddleware "github.com/wolfeidau/assetpipe/internal/http"
)

// ReloadPath is where browsers connect to receive reload messages.
const ReloadPath = "/__assetpipe/ws"

const shutdownTimeout = 5 * time.Second

// Builder produces the output the server hands out.
type Builder interface {
	Build(ctx context.Context) (*assets.Manifest, error)
}

type Server struct {
	cfg     *config.Config
	builder Builder
	hub     *Hub
	open    func(url string) error

	mu   sync.Mutex
	addr net.Addr
}

type Option func(*Server)

// WithOpener replaces the function used to open the browser.
func WithOpener(open func(url string) error) Option {
	return func(s *Server) {
		s.open = open
	}
}

func New(cfg *config.Config, builder Builder, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		builder: builder,
		hub:     NewHub(),
		open:    browser.OpenURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hub returns the reload hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Addr returns the address the server is listening on, or nil before Run has
// bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler serves the static directory and, with hot reload on, the reload
// socket.
func (s *Server) Handler() http.Handler {
	static := http.FileServer(http.Dir(s.cfg.Abs(s.cfg.DevServer.Static)))

	mux := http.NewServeMux()
	mux.Handle("/", httpmiddleware.NoCache()(gzhttp.GzipHandler(static)))
	if s.cfg.DevServer.Hot {
		// the socket is mounted outside the gzip wrapper so it can be hijacked
		mux.Handle(ReloadPath, s.hub)
	}

	var handler http.Handler = mux
	if len(s.cfg.DevServer.CORSOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: s.cfg.DevServer.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		}).Handler(handler)
	}

	return httpmiddleware.AccessLog(log.Logger)(handler)
}

// Run builds once, then serves and rebuilds until ctx is cancelled. A failed
// initial build is returned; failed rebuilds are logged and the previous
// output keeps being served.
func (s *Server) Run(ctx context.Context) error {
	if _, err := s.builder.Build(ctx); err != nil {
		return fmt.Errorf("initial build failed: %w", err)
	}

	ln, err := net.Listen("tcp", s.cfg.DevServer.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.DevServer.Listen, err)
	}

	ignore := ignoreFunc(s.cfg.Root, s.cfg.Abs(s.cfg.Output.Dir), s.cfg.Abs(s.cfg.DevServer.Static))
	w, err := newWatcher(s.cfg.Root, ignore)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to watch %s: %w", s.cfg.Root, err)
	}
	defer w.Close()

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Second,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	trigger := make(chan struct{}, 1)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.run(ctx, func(string) { signal(trigger) })
	}()
	go func() {
		defer wg.Done()
		debounce(ctx, trigger, s.cfg.DevServer.Debounce, func() { s.rebuild(ctx) })
	}()

	url := browserURL(ln.Addr())
	log.Info().Str("url", url).Str("static", s.cfg.DevServer.Static).Bool("hot", s.cfg.DevServer.Hot).Msg("Dev server started")

	if s.cfg.DevServer.Open {
		go func() {
			if err := openWhenReady(ctx, url, s.open); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Failed to open browser")
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	cancel()
	s.hub.Close()

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stop()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("Failed to shut down dev server cleanly")
	}

	wg.Wait()
	log.Info().Msg("Dev server stopped")

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) rebuild(ctx context.Context) {
	m, err := s.builder.Build(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Msg("Rebuild failed, serving previous output")
		return
	}

	if s.cfg.DevServer.Hot {
		s.hub.Broadcast(ctx, ReloadMessage)
	}
	log.Info().Str("fingerprint", m.Fingerprint).Msg("Rebuilt")
}

package devserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

const openTimeout = 10 * time.Second

// openWhenReady polls url until the server answers, then hands it to open.
func openWhenReady(ctx context.Context, url string, open func(string) error) error {
	client := &http.Client{Timeout: time.Second}

	probe := func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
		return resp.StatusCode, nil
	}

	status, err := backoff.Retry(ctx, probe,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(openTimeout),
	)
	if err != nil {
		return fmt.Errorf("server at %s never became ready: %w", url, err)
	}

	log.Info().Str("url", url).Int("status", status).Msg("Opening browser")
	return open(url)
}

// browserURL turns a listen address into a URL a browser can reach.
func browserURL(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String() + "/"
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}

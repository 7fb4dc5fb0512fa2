// Package keepalive pings the service's own public URL so hosts that idle
// out quiet instances keep it running.
package keepalive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type Pinger struct {
	url      string
	interval time.Duration
	client   *http.Client
	log      *slog.Logger
}

// New returns a Pinger for baseURL. A nil client uses one with a short
// timeout.
func New(baseURL string, interval time.Duration, client *http.Client, log *slog.Logger) *Pinger {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Pinger{
		url:      strings.TrimRight(baseURL, "/") + "/ping",
		interval: interval,
		client:   client,
		log:      log.With("component", "keepalive"),
	}
}

// Run pings every interval until ctx is done. Failures are logged and
// never stop the loop.
func (p *Pinger) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Ping(ctx); err != nil {
				p.log.Warn("keep-alive ping failed", "url", p.url, "error", err)
				continue
			}
			p.log.Debug("keep-alive ping ok", "url", p.url)
		}
	}
}

func (p *Pinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Command healthcheck probes the local /healthz endpoint and exits non-zero
// when the bot is not serving. It is used as the container health check.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// healthURL derives the probe URL from HTTP_ADDR (":8080", "0.0.0.0:9000").
func healthURL(addr string) string {
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") || strings.HasPrefix(addr, "0.0.0.0:") {
		addr = "localhost:" + addr[strings.LastIndex(addr, ":")+1:]
	}
	return "http://" + addr + "/healthz"
}

func main() {
	client := &http.Client{Timeout: 3 * time.Second}
	ctx := context.Background()
	url := healthURL(os.Getenv("HTTP_ADDR"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		os.Exit(1)
	}
	resp, err := client.Do(req)
	if err != nil {
		slog.Error("health probe failed", slog.String("url", url), slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		slog.Error("unhealthy", slog.Int("status", resp.StatusCode))
		os.Exit(1)
	}
}

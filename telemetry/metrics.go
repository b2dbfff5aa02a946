package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/urfave/cli/v2"
)

var CLIFlagMetricsListenAddress = &cli.StringFlag{
	Name:    "metrics-listen-address",
	Usage:   "listen address for the prometheus metrics server (empty disables it)",
	Value:   "",
	EnvVars: []string{"METRICS_LISTEN_ADDRESS"},
}

var CLIFlagPushgatewayURL = &cli.StringFlag{
	Name:    "pushgateway-url",
	Usage:   "prometheus pushgateway URL for one-shot runs (empty disables pushing)",
	Value:   "",
	EnvVars: []string{"PUSHGATEWAY_URL"},
}

// StartMetrics serves /metrics in the background when a listen address is configured.
func StartMetrics(cctx *cli.Context) {
	addr := cctx.String("metrics-listen-address")
	if addr == "" {
		return
	}

	logger := slog.Default().With("component", "metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", "listen_address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
}

// PushMetrics pushes the default registry to the configured Pushgateway.
// Batch jobs exit before a scrape could happen, so this is their only export path.
func PushMetrics(ctx context.Context, cctx *cli.Context, job string, grouping map[string]string) error {
	url := cctx.String("pushgateway-url")
	if url == "" {
		return nil
	}

	pusher := push.New(url, job).Gatherer(prometheus.DefaultGatherer)
	for k, v := range grouping {
		pusher = pusher.Grouping(k, v)
	}

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}

package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/assistio/intervene/internal/conn"
	"github.com/assistio/intervene/internal/metrics"
	"github.com/assistio/intervene/internal/notify"
)

func newWatchCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live notifications (push plus reconciling poll)",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store := openStore()
			defer store.Close()

			sess := restoreSession(store)
			api := apiClient(sess)
			mgr := conn.NewManager(cfg.WSBaseURL, sess, log, conn.WithReconnectDelay(cfg.ReconnectDelay))
			defer mgr.CloseAll()

			engine := notify.NewEngine(api, mgr, sess, store, log, notify.WithPollInterval(cfg.PollInterval))
			if err := engine.Start(ctx); err != nil {
				fatal("start notification engine", err)
			}
			defer engine.Stop()

			if metricsAddr != "" {
				serveMetrics(metricsAddr)
			}

			fmt.Println("Watching for notifications (Ctrl-C to stop)...")
			for {
				select {
				case <-ctx.Done():
					return
				case evt := <-engine.Events():
					printEvent(evt)
				}
			}
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func printEvent(evt notify.Event) {
	switch evt.Kind {
	case notify.EventNew:
		n := evt.Notification
		fmt.Printf("[%s] %s in %q: %s  (open: /chat/%d)\n",
			n.Timestamp, n.FromUser, n.Title, n.Message, n.TicketID)
	case notify.EventCleared:
	}
	fmt.Printf("unread: %d\n", evt.UnreadCount)
}

// serveMetrics exposes the client-core metrics for scraping. Best effort;
// the watch keeps running if the listener dies.
func serveMetrics(addr string) {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("metrics listener stopped")
		}
	}()
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/assistio/intervene/internal/models"
	"github.com/assistio/intervene/internal/stubserver"
)

// Demo tokens the mockserver seeds. Log in with any of them.
const (
	demoClientToken   = "demo-client"
	demoEmployeeToken = "demo-employee"
	demoAdminToken    = "demo-admin"
)

func newMockserverCmd() *cobra.Command {
	var (
		addr    string
		chatter time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mockserver",
		Short: "Run an in-process intervention backend for local development",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stub := stubserver.New(log)
			stub.AddUser(demoClientToken, "demo-client", models.RoleClient)
			stub.AddUser(demoEmployeeToken, "demo-employee", models.RoleEmployee)
			stub.AddUser(demoAdminToken, "demo-admin", models.RoleAdmin)
			first := stub.AddTicket("Cannot reach the VPN", "open", "high")
			stub.AddTicket("Invoice export is empty", "open", "low")

			if chatter > 0 {
				go runChatter(ctx, stub, first, chatter)
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           stub.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx) //nolint:errcheck // best-effort drain
			}()

			fmt.Printf("Mock intervention backend on %s\n", addr)
			fmt.Printf("Tokens: %s, %s, %s\n", demoClientToken, demoEmployeeToken, demoAdminToken)

			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fatal("serve", err)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8000", "Listen address")
	cmd.Flags().DurationVar(&chatter, "chatter", 0, "Post a demo message this often (0 disables)")
	return cmd
}

// runChatter posts periodic employee messages so `watch` and `chat` have
// live traffic to show.
func runChatter(ctx context.Context, stub *stubserver.Server, ticketID int64, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			msg := fmt.Sprintf("still looking into it, update #%d", n)
			if err := stub.PostMessage(ticketID, demoEmployeeToken, msg); err != nil {
				log.WithError(err).Debug("chatter post failed")

				return
			}
		}
	}
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/assistio/intervene/client"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Authenticate and persist credentials in the local state database",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			token := args[0]

			api := client.New(cfg.APIBaseURL, client.WithToken(token), client.WithTimeout(10*time.Second))
			user, err := api.Users.Me(context.Background())
			if err != nil {
				fatal("verify token", err)
			}

			store := openStore()
			defer store.Close()

			if err := store.SaveCredentials(token, *user); err != nil {
				fatal("persist credentials", err)
			}

			fmt.Printf("Logged in as %s (%s)\n", user.Username, user.Role)
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget stored credentials",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore()
			defer store.Close()

			if err := store.ClearCredentials(); err != nil {
				fatal("clear credentials", err)
			}

			fmt.Println("Logged out")
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated principal",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore()
			defer store.Close()

			sess := restoreSession(store)
			user := sess.User()
			fmt.Printf("%s (%s, id %d)\n", user.Username, user.Role, user.ID)
		},
	}
}

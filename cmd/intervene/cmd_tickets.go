package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newTicketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "List interventions visible to you",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore()
			defer store.Close()

			sess := restoreSession(store)
			tickets, err := apiClient(sess).Tickets.List(context.Background())
			if err != nil {
				fatal("list interventions", err)
			}

			if flagFmt == "json" {
				formatJSON(tickets)

				return
			}

			rows := make([][]string, 0, len(tickets))
			for _, t := range tickets {
				rating := "-"
				if t.ChatRating != nil {
					rating = strconv.Itoa(*t.ChatRating)
				}
				rows = append(rows, []string{
					strconv.FormatInt(t.ID, 10),
					t.Title,
					t.Status,
					t.Priority,
					strconv.Itoa(len(t.Messages)),
					rating,
				})
			}
			formatTable([]string{"ID", "TITLE", "STATUS", "PRIORITY", "MESSAGES", "RATING"}, rows)
		},
	}
	cmd.AddCommand(newTicketsShowCmd())
	return cmd
}

func newTicketsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one intervention with its message thread",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				fatal("parse ticket id", err)
			}

			store := openStore()
			defer store.Close()

			sess := restoreSession(store)
			ticket, err := apiClient(sess).Tickets.Get(context.Background(), id)
			if err != nil {
				fatal("fetch intervention", err)
			}

			if flagFmt == "json" {
				formatJSON(ticket)

				return
			}

			fmt.Printf("#%d %s  [%s/%s]\n", ticket.ID, ticket.Title, ticket.Status, ticket.Priority)
			if ticket.ChatRating != nil {
				fmt.Printf("chat rating: %d/5\n", *ticket.ChatRating)
			}
			for _, m := range ticket.Messages {
				fmt.Printf("%s  %s: %s\n", m.Timestamp, m.User.Username, m.Content)
			}
		},
	}
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/assistio/intervene/internal/chat"
	"github.com/assistio/intervene/internal/conn"
	"github.com/assistio/intervene/internal/models"
	"github.com/assistio/intervene/internal/presenter"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <ticket-id>",
		Short: "Join the live chat of an intervention",
		Long: `Join the live chat of an intervention. Type to send messages.
Commands: /end (employee only), /rate <1-5>, /quit`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ticketID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				fatal("parse ticket id", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store := openStore()
			defer store.Close()

			sess := restoreSession(store)
			mgr := conn.NewManager(cfg.WSBaseURL, sess, log, conn.WithReconnectDelay(cfg.ReconnectDelay))
			defer mgr.CloseAll()

			room := chat.Open(ctx, ticketID, apiClient(sess), mgr, sess, store, log)
			defer room.Close()

			// The presentation bridge drives the terminal cues: bell, title
			// badge, and OSC notifications for messages from the other side.
			// The terminal counts as unfocused so every incoming message
			// rings through; the log printer below owns the read-marker.
			titler := &termTitler{base: fmt.Sprintf("intervene chat #%d", ticketID), out: os.Stderr}
			bridge := presenter.New(termNotifier{out: os.Stderr}, bellSounder{out: os.Stderr}, titler, sess, log)
			bridge.SetFocused(false)

			tee := newTeeSession(room)
			bridgeDone := make(chan struct{})
			go func() {
				defer close(bridgeDone)
				bridge.Watch(tee)
			}()
			go drainToasts(bridge, bridgeDone)

			done := make(chan struct{})
			go func() {
				defer close(done)
				printChatEvents(room, tee, sess.User().ID)
			}()

			readLines(ctx, room)

			room.Close()
			<-done
			close(tee.events)
			<-bridgeDone

			// Restores the terminal title and clears the badge.
			bridge.SetFocused(true)
		},
	}
}

// drainToasts empties the bridge's toast channel. Toast content (incoming
// messages, rejections, chat-ended notices) is already rendered inline by
// the log printer; only the queue needs releasing.
func drainToasts(bridge *presenter.Bridge, done <-chan struct{}) {
	for {
		select {
		case <-bridge.Toasts():
		case <-done:
			return
		}
	}
}

// printChatEvents renders session events until the session reaches a
// terminal state, forwarding each one to the presentation bridge.
func printChatEvents(room *chat.Session, tee *teeSession, selfID int64) {
	for evt := range room.Events() {
		tee.forward(evt)

		switch evt.Kind {
		case chat.EventMessage:
			printMessage(evt.Message, selfID)
			room.MarkSeen()
		case chat.EventRejection:
			fmt.Printf("!! %s\n", evt.Text)
		case chat.EventStateChange:
			switch evt.State {
			case chat.StateActive:
				for _, m := range room.Messages() {
					printMessage(m, selfID)
				}
				fmt.Println("-- connected --")
			case chat.StateAwaitingRating:
				fmt.Println("-- chat ended; rate it with /rate <1-5> or /quit --")
			case chat.StateClosed:
				if rating, ok := room.Rating(); ok {
					fmt.Printf("-- chat closed (rated %d/5) --\n", rating)
				} else {
					fmt.Println("-- chat closed --")
				}

				return
			case chat.StateError:
				fmt.Printf("-- chat failed: %v --\n", room.Err())

				return
			}
		}
	}
}

func printMessage(m models.Message, selfID int64) {
	switch {
	case m.Kind == models.KindSystem:
		fmt.Printf("   * %s\n", m.Content)
	case m.AuthorID == selfID:
		fmt.Printf("you: %s\n", m.Content)
	default:
		fmt.Printf("%s: %s\n", m.Author, m.Content)
	}
}

// readLines feeds stdin into the session until EOF, /quit, or cancellation.
func readLines(ctx context.Context, room *chat.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return
		case line == "/end":
			if err := room.EndChat(ctx); err != nil {
				fmt.Printf("!! %v\n", err)
			}
		case strings.HasPrefix(line, "/rate"):
			value, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/rate")))
			if err != nil {
				fmt.Println("!! usage: /rate <1-5>")
				continue
			}
			if err := room.SubmitRating(ctx, value); err != nil {
				fmt.Printf("!! %v\n", err)
				continue
			}

			return
		default:
			if err := room.SendMessage(ctx, line); err != nil {
				fmt.Printf("!! %v\n", err)
			}
		}
	}
}

// Command helploop-chat is a terminal chat client for the HelpLoop gateway.
// It drives a full conversation: connect, start a session, stream bot
// replies, hand over to an agent, close and rate.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	helploop "github.com/HelpLoop/helploop-go-sdk"
	"github.com/HelpLoop/helploop-go-sdk/presence"
	"github.com/HelpLoop/helploop-go-sdk/session"
)

func main() {
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env")
	}

	cfg, err := helploop.ConfigFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	client := helploop.New(cfg)
	api := helploop.NewAPIClient(cfg)

	ctrl := client.ChatController(api, session.Options{
		Greeting: true,
		Hooks: session.Hooks{
			OnMessage: func(_ string, m session.Message) {
				printMessage(m)
			},
			OnTyping: func(_ string, typing bool) {
				if typing {
					fmt.Println("  [bot is typing...]")
				}
			},
			OnStatus: func(_ string, st session.Status) {
				fmt.Printf("  [session %s]\n", st)
			},
			OnRatingPrompt: func(_ string) {
				fmt.Println("  [session closed; rate it with /rate 1-5, or /rate 0 to skip]")
			},
		},
	})

	client.OnStateChange(func(info helploop.ConnInfo) {
		switch info.State {
		case helploop.StateConnected:
			if err := ctrl.EnsureSubscribed(); err != nil {
				slog.Warn("resubscribe failed", "error", err)
			}
		case helploop.StateDisconnected:
			if info.Unavailable {
				fmt.Println("  [service unavailable, still retrying]")
			}
		}
	})

	pres := client.PresenceBroadcaster(presence.Hooks{
		OnDeactivated: func(ev presence.Event) {
			fmt.Printf("  [account deactivated: %s]\n", ev.Reason)
			client.Close()
			os.Exit(2)
		},
	})

	if err := client.Connect(ctx); err != nil {
		slog.Warn("initial connect failed, retrying in background", "error", err)
	}
	if err := pres.Start(); err != nil {
		slog.Warn("presence subscribe deferred", "error", err)
	}

	if _, err := ctrl.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "start session:", err)
		os.Exit(1)
	}

	fmt.Println("connected; type a message, or /handover, /close, /rate N [note], /quit")
	repl(ctx, client, ctrl)
}

func repl(ctx context.Context, client *helploop.Client, ctrl *session.Controller) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := ctrl.SendMessage(ctx, line); err != nil {
				fmt.Println("  [send failed:", err, "]")
			}
			continue
		}

		cmd, rest, _ := strings.Cut(line[1:], " ")
		switch cmd {
		case "quit":
			client.Close()
			return
		case "handover":
			if err := ctrl.RequestHandover(ctx); err != nil {
				fmt.Println("  [handover failed:", err, "]")
			}
		case "close":
			if err := ctrl.Close(ctx); err != nil {
				fmt.Println("  [close reported:", err, "]")
			}
		case "rate":
			val, note, _ := strings.Cut(rest, " ")
			n, err := strconv.Atoi(val)
			if err != nil {
				fmt.Println("  [usage: /rate N [note]]")
				continue
			}
			if err := ctrl.Rate(ctx, n, note); err != nil {
				fmt.Println("  [rating failed:", err, "]")
			} else if n > 0 {
				fmt.Println("  [thanks for the rating]")
			}
		default:
			fmt.Println("  [unknown command]")
		}
	}
	client.Close()
}

func printMessage(m session.Message) {
	name := m.SenderName
	if name == "" {
		name = m.Sender.String()
	}
	fmt.Printf("%s: %s\n", name, m.Content)
}

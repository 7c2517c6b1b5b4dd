// ReelChat terminal client.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mvaleev/reelchat/internal/client"
	"github.com/mvaleev/reelchat/internal/convstore"
	"github.com/mvaleev/reelchat/internal/dispatch"
	"github.com/mvaleev/reelchat/internal/protocol"
	"github.com/mvaleev/reelchat/internal/render"
	"github.com/mvaleev/reelchat/internal/transport"
	"github.com/mvaleev/reelchat/internal/turn"
)

const turnTimeout = 2 * time.Minute

func main() {
	addr := flag.String("addr", "localhost:8080", "server host:port")
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))
	slog.SetDefault(logger)

	dispatcher := dispatch.New(logger)
	session := transport.NewSession("ws://"+*addr+"/ws/chat", dispatcher, logger)
	store := convstore.New(logger)
	machine := turn.NewMachine(store, render.New(), logger)
	api := client.NewAPI("http://" + *addr)

	// turnDone is signaled on every terminal turn event so the prompt loop
	// knows when to resume.
	turnDone := make(chan struct{}, 1)
	signalDone := func() {
		select {
		case turnDone <- struct{}{}:
		default:
		}
	}

	engine := client.New(client.Config{
		Session: session,
		Store:   store,
		Machine: machine,
		API:     api,
		Logger:  logger,
		Notify: func(level client.NotifyLevel, message string) {
			switch level {
			case client.NotifyError:
				fmt.Fprintf(os.Stderr, "\nerror: %s\n", message)
			case client.NotifyWarning:
				fmt.Fprintf(os.Stderr, "\nwarning: %s\n", message)
			default:
				fmt.Fprintf(os.Stderr, "\n%s\n", message)
			}
		},
	})

	// Stream the turn to the terminal as it arrives. These listeners run
	// after the engine's own, so the store is already up to date.
	session.AddListener(protocol.EventThinkingStart, func(protocol.Event) {
		fmt.Print("\n[thinking] ")
	})
	session.AddListener(protocol.EventThinkingChunk, func(evt protocol.Event) {
		fmt.Print(evt.Text)
	})
	session.AddListener(protocol.EventThinkingEnd, func(protocol.Event) {
		fmt.Print("\n\n")
	})
	session.AddListener(protocol.EventResponseChunk, func(evt protocol.Event) {
		fmt.Print(evt.Text)
	})
	session.AddListener(protocol.EventResponseDone, func(protocol.Event) {
		fmt.Println()
		signalDone()
	})
	session.AddListener(protocol.EventError, func(protocol.Event) {
		signalDone()
	})
	session.AddListener(protocol.EventDisconnected, func(protocol.Event) {
		signalDone()
	})

	ctx := context.Background()
	if !engine.Connect(ctx) {
		fmt.Fprintf(os.Stderr, "could not connect to %s\n", *addr)
		os.Exit(1)
	}
	defer engine.Disconnect()

	if err := engine.RefreshConversations(ctx); err != nil {
		logger.Warn("failed to load conversation list", "error", err)
	}

	fmt.Println("ReelChat. Type a message, or /help for commands.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := runCommand(ctx, engine, line); quit {
				return
			}
			continue
		}

		if err := engine.StartTurn(line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		waitForTurn(turnDone)
	}
}

func waitForTurn(turnDone <-chan struct{}) {
	select {
	case <-turnDone:
	case <-time.After(turnTimeout):
		fmt.Fprintln(os.Stderr, "turn timed out")
	}
}

// runCommand handles a slash command. Returns true when the client should
// exit.
func runCommand(ctx context.Context, engine *client.Client, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Println("/list            list conversations")
		fmt.Println("/open <id>       open a conversation")
		fmt.Println("/delete <id>     delete a conversation")
		fmt.Println("/new             start the next message in a new conversation")
		fmt.Println("/quit            exit")
	case "/list":
		if err := engine.RefreshConversations(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return false
		}
		for _, conv := range engine.Store().Conversations() {
			marker := " "
			if conv.ID == engine.Store().Selected() {
				marker = "*"
			}
			fmt.Printf("%s %s  %s\n", marker, conv.ID, conv.Title)
		}
	case "/open":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "usage: /open <id>")
			return false
		}
		if err := engine.OpenConversation(ctx, fields[1]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return false
		}
		for _, msg := range engine.Store().Messages(fields[1]) {
			fmt.Printf("[%s] %s\n", msg.Role, msg.RawContent)
		}
	case "/delete":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "usage: /delete <id>")
			return false
		}
		if err := engine.DeleteConversation(ctx, fields[1]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	case "/new":
		engine.Store().ClearSelection()
		fmt.Println("next message starts a new conversation")
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", fields[0])
	}
	return false
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

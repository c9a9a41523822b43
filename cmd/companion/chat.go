package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/normanking/cortexcompanion/internal/bus"
	"github.com/normanking/cortexcompanion/internal/companion"
	"github.com/normanking/cortexcompanion/internal/conversation"
	"github.com/normanking/cortexcompanion/internal/speech"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the companion in the terminal",
		Long: `Chat with the companion in the terminal. Replies are shown with the
companion's mood and affection; speech is not played.

Commands:
  /characters      list characters
  /character <id>  switch character
  /state           show the current state
  /history         show the conversation
  /quit            exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initRuntime(false); err != nil {
				return err
			}
			defer syslog.Close()
			return runChat(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}

func runChat(parent context.Context, in io.Reader, out io.Writer) error {
	a, err := newApp(cfg, func(*bus.EventBus) speech.Player { return speech.NullPlayer{} }, false)
	if err != nil {
		return err
	}
	orch := a.companion

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = orch.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
		orch.Wait()
		a.pipeline.Wait()
	}()

	// Handlers run on the companion goroutine while the prompt waits
	a.bus.Subscribe(bus.EventTypeTurnAppended, func(e bus.Event) {
		turn, ok := e.Data["turn"].(conversation.Turn)
		if !ok || turn.Role != conversation.RoleAssistant {
			return
		}
		snap := orch.Snapshot()
		fmt.Fprintf(out, "%s [%s] <3 %d: %s\n", orch.Character().Name, snap.State, snap.Affection, turn.Content)
	})
	a.bus.Subscribe(bus.EventTypeStatusChanged, func(e bus.Event) {
		if snap, ok := e.Data["snapshot"].(companion.Snapshot); ok && snap.Status != "" {
			fmt.Fprintf(out, "  >> %s\n", snap.Status)
		}
	})
	a.bus.Subscribe(bus.EventTypeActionNavigate, func(e bus.Event) {
		fmt.Fprintf(out, "  >> open %v\n", e.Data["url"])
	})

	fmt.Fprintf(out, "Chatting with %s. Type /quit to exit.\n", orch.Character().Name)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "/") {
			quit, err := chatCommand(ctx, orch, line, out)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		ticket, err := orch.Submit(ctx, line)
		if errors.Is(err, companion.ErrEmptyInput) {
			continue
		}
		if err != nil {
			return err
		}
		if err := ticket.Wait(ctx); err != nil {
			return err
		}
	}
}

func chatCommand(ctx context.Context, orch *companion.Orchestrator, line string, out io.Writer) (quit bool, err error) {
	fields := strings.Fields(line)

	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/characters":
		active := orch.Character().ID
		for _, ch := range orch.Characters() {
			marker := " "
			if ch.ID == active {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %-8s %s\n", marker, ch.ID, ch.Name)
		}
	case "/character":
		if len(fields) < 2 {
			return false, errors.New("usage: /character <id>")
		}
		if err := orch.SelectCharacter(ctx, fields[1]); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Now chatting with %s.\n", orch.Character().Name)
	case "/state":
		snap := orch.Snapshot()
		fmt.Fprintf(out, "state=%s affection=%d character=%s thinking=%t talking=%t\n",
			snap.State, snap.Affection, snap.Character, snap.IsThinking, snap.IsTalking)
		if snap.Status != "" {
			fmt.Fprintf(out, "status=%q\n", snap.Status)
		}
	case "/history":
		fmt.Fprintln(out, conversation.Transcript(orch.History()))
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

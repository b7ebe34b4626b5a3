package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tablesession/internal/app"
)

type commandTarget struct {
	session interface {
		SendChat(text string) error
		SendEvent(event any) error
		Roster() []app.Participant
	}
	votes interface {
		CastOwn(option int) error
	}
	voice interface {
		EnableMedia(ctx context.Context) error
	}
	quit func()
}

// readCommands turns terminal lines into outbound intents. Lines not starting
// with "/" are chat.
func readCommands(ctx context.Context, in io.Reader, t commandTarget) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if err := runCommand(ctx, strings.TrimSpace(sc.Text()), t); err != nil {
			log.Warn().Str("module", "cmd").Err(err).Msg("command failed")
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func runCommand(ctx context.Context, line string, t commandTarget) error {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return t.session.SendChat(line)
	}
	verb, arg, _ := strings.Cut(line[1:], " ")
	switch verb {
	case "vote":
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			return fmt.Errorf("usage: /vote <option>")
		}
		return t.votes.CastOwn(n)
	case "voice":
		return t.voice.EnableMedia(ctx)
	case "event":
		raw := json.RawMessage(arg)
		if !json.Valid(raw) {
			return fmt.Errorf("usage: /event <json>")
		}
		return t.session.SendEvent(raw)
	case "who":
		for _, p := range t.session.Roster() {
			fmt.Printf("seat %d  %-36s conn %d\n", p.Seat+1, p.Name, p.Conn)
		}
		return nil
	case "quit":
		t.quit()
		return nil
	}
	return fmt.Errorf("unknown command /%s", verb)
}

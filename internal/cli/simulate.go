package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bhandras/ussdpilot/internal/bus"
	"github.com/bhandras/ussdpilot/internal/config"
	"github.com/bhandras/ussdpilot/internal/session"
	sessionactor "github.com/bhandras/ussdpilot/internal/session/actor"
	"github.com/gookit/color"
)

// SimulateCommand runs one session against the canned simulator, printing
// the session's notifications to out and submitting each line of in as a
// reply. It returns when the session ends, in is exhausted or ctx is done.
func SimulateCommand(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	engine, err := NewEngine(ctx, cfg, EngineOptions{Demo: true, NoJournal: true})
	if err != nil {
		return err
	}
	defer engine.Close(context.Background())

	ended := make(chan struct{})
	var endOnce sync.Once
	var mu sync.Mutex

	engine.Bus.Subscribe(bus.TopicSessionEvent, func(_ string, payload any) {
		n, ok := payload.(bus.Notification)
		if !ok {
			return
		}
		mu.Lock()
		fmt.Fprint(out, formatNote(n))
		mu.Unlock()
		if n.Type == sessionactor.NoteSessionEnded {
			endOnce.Do(func() { close(ended) })
		}
	})

	sessionID, err := engine.Sessions.Start(ctx, "")
	if err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ended:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ended:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			err := engine.Sessions.Reply(ctx, sessionID, line)
			switch {
			case err == nil:
			case errors.Is(err, session.ErrUnknownSession), errors.Is(err, sessionactor.ErrSessionEnded):
				return nil
			default:
				return err
			}
		}
	}
}

// formatNote renders a notification for a terminal.
func formatNote(n bus.Notification) string {
	tag := "[" + n.Type + "]"
	switch n.Type {
	case sessionactor.NoteSuccess:
		tag = color.Green.Sprint(tag)
	case sessionactor.NoteError:
		tag = color.Red.Sprint(tag)
	case sessionactor.NoteInputSent, sessionactor.NoteDialing, sessionactor.NoteSessionStarted,
		sessionactor.NoteSessionEnded:
		tag = color.Gray.Sprint(tag)
	default:
		tag = color.Cyan.Sprint(tag)
	}
	msg := strings.TrimSpace(n.Message)
	if strings.Contains(msg, "\n") {
		return fmt.Sprintf("%s\n%s\n\n", tag, msg)
	}
	return fmt.Sprintf("%s %s\n", tag, msg)
}

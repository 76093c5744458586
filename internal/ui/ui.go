// Package ui holds the terminal front ends of the agent.
package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/recall/internal/guard"
	"github.com/felixgeelhaar/recall/internal/runtime"
)

// Responder answers a user message.
type Responder interface {
	HandleTurn(ctx context.Context, owner, text string) string
}

// Gate screens messages with g before they reach r. A rejected message is
// answered with the violation and never starts a turn.
func Gate(r Responder, g *guard.Guard) Responder {
	return gated{next: r, guard: g}
}

type gated struct {
	next  Responder
	guard *guard.Guard
}

func (g gated) HandleTurn(ctx context.Context, owner, text string) string {
	if v := g.guard.CheckInput(text); v != nil {
		return "Message rejected: " + v.Message
	}
	return g.next.HandleTurn(ctx, owner, text)
}

// UI receives progress of a running turn.
type UI interface {
	UpdateStatus(status string)
	Log(msg string)
}

type SilentUI struct{}

func (s SilentUI) UpdateStatus(status string) {}
func (s SilentUI) Log(msg string)             {}

// Watch forwards agent events to u.
func Watch(bus *runtime.EventBus, u UI) {
	bus.SubscribeAll(func(e runtime.Event) {
		if status, ok := statusFor(e); ok {
			u.UpdateStatus(status)
		}
		if e.Type == runtime.EventToolCallEnd {
			tool, _ := e.Data["tool"].(string)
			if failed, _ := e.Data["error"].(bool); failed {
				u.Log("memory lookup failed: " + tool)
			} else {
				u.Log("memory lookup: " + tool)
			}
		}
	})
}

func statusFor(e runtime.Event) (string, bool) {
	switch e.Type {
	case runtime.EventTurnStart, runtime.EventModelRequest:
		return "Thinking...", true
	case runtime.EventToolCallStart:
		return "Remembering...", true
	case runtime.EventTurnComplete:
		return "Ready", true
	case runtime.EventTurnError:
		return "Error", true
	default:
		return "", false
	}
}

const (
	Greeting = `Welcome to the chatbot! Type "exit" to end the conversation.`
	Farewell = "Goodbye!"
)

// RunREPL runs a line-oriented chat on in and out until the user types exit
// or in is exhausted.
func RunREPL(ctx context.Context, in io.Reader, out io.Writer, r Responder, owner string) error {
	renderer := lipgloss.NewRenderer(out)
	notice := renderer.NewStyle().Foreground(lipgloss.Color("11"))
	prompt := renderer.NewStyle().Foreground(lipgloss.Color("12"))
	bot := renderer.NewStyle().Foreground(lipgloss.Color("9"))

	fmt.Fprintln(out, notice.Render(Greeting+"\n"))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, prompt.Render("You: "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()
		if strings.EqualFold(strings.TrimSpace(line), "exit") {
			fmt.Fprintln(out, notice.Render(Farewell))
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		reply := r.HandleTurn(ctx, owner, line)
		fmt.Fprintln(out, bot.Render("Bot: "+reply))
	}
}

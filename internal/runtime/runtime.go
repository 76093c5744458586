package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/recall/internal/conversation"
	"github.com/felixgeelhaar/recall/internal/guard"
	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/persona"
	"github.com/felixgeelhaar/recall/internal/provider"
)

// User-visible fallbacks.
const (
	EmptyReply = "Error generating response."
	Apology    = "I'm sorry, I encountered an error while processing your request."
)

// DefaultSampling is the fixed sampling configuration of every model call.
var DefaultSampling = provider.Sampling{Temperature: 1.5, TopP: 0.8}

// Retriever is the memory engine the agent reads from and writes to.
type Retriever interface {
	FindRelevant(ctx context.Context, owner, query string, angle float64, maxResults int) ([]memory.Result, error)
	FindByDateRange(ctx context.Context, owner, start, end string) ([]memory.Result, error)
	Ingest(ctx context.Context, owner, message, repliedTo string) (memory.Record, error)
}

// Config wires an Agent. Completer, Retriever and Sessions are required.
type Config struct {
	Completer provider.Completer
	Retriever Retriever
	Sessions  *conversation.Store
	Persona   persona.Profile
	Guard     *guard.Guard
	Observer  *observe.Observer
	Metrics   *observe.Metrics
	Events    *EventBus
	Sampling  provider.Sampling

	// TurnTimeout bounds a whole turn; IngestTimeout bounds background writes.
	TurnTimeout   time.Duration
	IngestTimeout time.Duration

	Now func() time.Time
}

// Agent runs conversation turns: it lets the model request memory lookups,
// executes them and re-queries the model once.
type Agent struct {
	cfg     Config
	pending sync.WaitGroup
}

func New(cfg Config) (*Agent, error) {
	if cfg.Completer == nil {
		return nil, errors.New("runtime: completer is required")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("runtime: retriever is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("runtime: session store is required")
	}
	if cfg.Persona.SystemPrompt == "" {
		cfg.Persona = persona.Default()
	}
	if cfg.Guard == nil {
		cfg.Guard = guard.New(guard.DefaultPolicy)
	}
	if cfg.Observer == nil {
		cfg.Observer = observe.Discard()
	}
	if cfg.Sampling == (provider.Sampling{}) {
		cfg.Sampling = DefaultSampling
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}
	if cfg.IngestTimeout <= 0 {
		cfg.IngestTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Agent{cfg: cfg}, nil
}

// Wait blocks until background ingestion started by HandleTurn has finished.
func (a *Agent) Wait() {
	a.pending.Wait()
}

// HandleTurn answers one user message. It never fails: collaborator errors
// are logged and turned into an apology.
func (a *Agent) HandleTurn(ctx context.Context, owner, text string) string {
	ctx, span := a.cfg.Observer.StartSpan(ctx, "HandleTurn", "owner", owner)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.TurnTimeout)
	defer cancel()

	start := a.cfg.Now()
	a.cfg.Events.PublishWithData(EventTurnStart, owner, nil)

	reply, err := a.turn(ctx, owner, text)
	if err != nil {
		observe.Fail(span, err)
		a.cfg.Observer.Log().Error().Str("owner", owner).Err(err).Msg("turn failed")
		a.cfg.Metrics.CountTurn("error")
		a.cfg.Events.PublishWithData(EventTurnError, owner, map[string]any{"error": err.Error()})
		return Apology
	}

	a.cfg.Metrics.CountTurn("ok")
	a.cfg.Events.PublishWithData(EventTurnComplete, owner, map[string]any{
		"duration": a.cfg.Now().Sub(start),
	})
	return reply
}

func (a *Agent) turn(ctx context.Context, owner, text string) (string, error) {
	sess, err := a.cfg.Sessions.Acquire(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("acquire session: %w", err)
	}
	defer sess.Release()
	defer a.persist(ctx, sess)

	repliedTo := memory.ConversationStart
	if prev, ok := sess.PreviousTurn(); ok && prev.Content != "" {
		repliedTo = prev.Content
	}
	a.ingestAsync(ctx, owner, text, repliedTo)

	sess.AppendUser(a.cfg.Persona.RenderUser(owner, text))
	preamble := a.cfg.Persona.Preamble(a.cfg.Now())

	first, err := a.chat(ctx, owner, "first", preamble, sess, Tools())
	if err != nil {
		return "", err
	}
	reply := first.Content

	if a.runTools(ctx, owner, sess, first.ToolCalls) > 0 {
		second, err := a.chat(ctx, owner, "second", preamble, sess, nil)
		if err != nil {
			return "", err
		}
		reply = second.Content
	}

	if reply == "" {
		reply = EmptyReply
	}
	sess.AppendAssistant(reply)
	return reply, nil
}

// persist saves the held session whether or not the turn succeeded. It gets a
// fresh deadline so a turn that timed out is still written.
func (a *Agent) persist(ctx context.Context, sess *conversation.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.IngestTimeout)
	defer cancel()
	if err := a.cfg.Sessions.Save(ctx, sess); err != nil {
		a.cfg.Observer.Log().Warn().Str("owner", sess.Owner()).Err(err).Msg("failed to persist session")
	}
}

func (a *Agent) chat(ctx context.Context, owner, stage, preamble string, sess *conversation.Session, tools []provider.ToolSchema) (*provider.Response, error) {
	ctx, span := a.cfg.Observer.StartSpan(ctx, "ModelCall", "stage", stage)
	defer span.End()

	turns := sess.Turns()
	messages := make([]provider.Message, 0, len(turns)+1)
	messages = append(messages, provider.Message{Role: string(conversation.RoleSystem), Content: preamble})
	for _, t := range turns {
		messages = append(messages, provider.Message{Role: string(t.Role), Content: t.Content})
	}

	a.cfg.Events.PublishWithData(EventModelRequest, owner, map[string]any{
		"stage":    stage,
		"messages": len(messages),
		"tools":    len(tools),
	})

	began := time.Now()
	resp, err := a.cfg.Completer.Chat(ctx, messages, tools, a.cfg.Sampling)
	a.cfg.Metrics.ObserveModel(stage, time.Since(began), err)
	if err != nil {
		observe.Fail(span, err)
		return nil, fmt.Errorf("model call (%s): %w", stage, err)
	}

	a.cfg.Events.PublishWithData(EventModelResponse, owner, map[string]any{
		"stage":      stage,
		"tool_calls": len(resp.ToolCalls),
		"tokens":     resp.Usage.TotalTokens,
	})
	return resp, nil
}

// runTools executes the calls in order and returns how many context turns it
// appended. A failing call yields its failure turn; unknown tools are skipped.
func (a *Agent) runTools(ctx context.Context, owner string, sess *conversation.Session, calls []provider.ToolCall) int {
	appended := 0
	for i, call := range calls {
		a.cfg.Events.PublishWithData(EventToolCallStart, owner, map[string]any{"tool": call.Name, "id": call.ID})

		content, err := a.execute(ctx, i+1, call)

		a.cfg.Events.PublishWithData(EventToolCallEnd, owner, map[string]any{
			"tool":  call.Name,
			"id":    call.ID,
			"error": err != nil,
		})

		switch {
		case errors.Is(err, errUnknownTool):
			a.cfg.Metrics.CountToolCall("unknown", "ignored")
			a.cfg.Observer.Log().Warn().Str("owner", owner).Str("tool", call.Name).Msg("unknown tool call ignored")
			continue
		case err != nil:
			a.cfg.Metrics.CountToolCall(call.Name, "error")
			a.cfg.Observer.Log().Error().Str("owner", owner).Str("tool", call.Name).Err(err).Msg("tool call failed")
		default:
			a.cfg.Metrics.CountToolCall(call.Name, "ok")
		}
		sess.AppendSystem(content)
		appended++
	}
	return appended
}

var errUnknownTool = errors.New("unknown tool")

// execute runs one call and returns the context turn for it. On failure the
// returned content is already the failure turn.
func (a *Agent) execute(ctx context.Context, n int, call provider.ToolCall) (string, error) {
	inv, err := ParseToolCall(call)
	if err != nil {
		return failureTurn(inv.Kind), err
	}
	if inv.Kind == ToolUnknown {
		return "", errUnknownTool
	}

	ctx, span := a.cfg.Observer.StartSpan(ctx, "ToolCall", "tool", inv.Kind.String(), "owner", inv.Owner)
	defer span.End()

	if v := a.cfg.Guard.CheckToolBudget(n); v != nil {
		return failureTurn(inv.Kind), &ToolExecutionError{Tool: call.Name, Err: v}
	}
	if v := a.cfg.Guard.CheckOwner(inv.Owner); v != nil {
		return failureTurn(inv.Kind), &ToolExecutionError{Tool: call.Name, Err: v}
	}

	var results []memory.Result
	switch inv.Kind {
	case ToolRetrieveMemory:
		results, err = a.cfg.Retriever.FindRelevant(ctx, inv.Owner, inv.Inquiry, RelevantAngle, RelevantDepth)
	case ToolRetrieveMemoryByDateRange:
		results, err = a.cfg.Retriever.FindByDateRange(ctx, inv.Owner, inv.Start, inv.End)
	}
	if err != nil {
		observe.Fail(span, err)
		return failureTurn(inv.Kind), &ToolExecutionError{Tool: call.Name, Err: err}
	}

	content, err := successTurn(inv.Kind, results)
	if err != nil {
		return failureTurn(inv.Kind), &ToolExecutionError{Tool: call.Name, Err: err}
	}
	return content, nil
}

// ingestAsync persists the raw message off the turn's critical path. The
// write outlives the request but not IngestTimeout.
func (a *Agent) ingestAsync(ctx context.Context, owner, text, repliedTo string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.IngestTimeout)
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		defer cancel()
		a.ingest(ctx, owner, text, repliedTo)
	}()
}

func (a *Agent) ingest(ctx context.Context, owner, text, repliedTo string) error {
	rec, err := a.cfg.Retriever.Ingest(ctx, owner, text, repliedTo)
	if err != nil {
		a.cfg.Observer.Log().Error().Str("owner", owner).Err(err).Msg("failed to ingest message")
		return err
	}
	a.cfg.Events.PublishWithData(EventMemoryIngested, owner, map[string]any{"id": rec.ID})
	return nil
}

// Ingest stores a message without running a turn. The reply-to reference is
// the owner's most recent turn.
func (a *Agent) Ingest(ctx context.Context, owner, text string) error {
	turns, err := a.cfg.Sessions.Snapshot(ctx, owner)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	repliedTo := memory.ConversationStart
	if n := len(turns); n > 0 && turns[n-1].Content != "" {
		repliedTo = turns[n-1].Content
	}
	return a.ingest(ctx, owner, text, repliedTo)
}

// Retriever exposes the memory engine for read-only front ends.
func (a *Agent) Retriever() Retriever {
	return a.cfg.Retriever
}

// Guard exposes the policy for edge checks.
func (a *Agent) Guard() *guard.Guard {
	return a.cfg.Guard
}

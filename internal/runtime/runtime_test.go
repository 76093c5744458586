package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/recall/internal/conversation"
	"github.com/felixgeelhaar/recall/internal/guard"
	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/provider"
	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ingested struct {
	owner, message, repliedTo string
}

type fakeRetriever struct {
	mu        sync.Mutex
	relevant  []memory.Result
	byRange   []memory.Result
	err       error
	ingestErr error
	ingests   []ingested
	queries   []string
}

func (f *fakeRetriever) FindRelevant(_ context.Context, owner, query string, angle float64, maxResults int) ([]memory.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, owner+"|"+query)
	return f.relevant, f.err
}

func (f *fakeRetriever) FindByDateRange(_ context.Context, owner, start, end string) ([]memory.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, owner+"|"+start+".."+end)
	return f.byRange, f.err
}

func (f *fakeRetriever) Ingest(_ context.Context, owner, message, repliedTo string) (memory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ingestErr != nil {
		return memory.Record{}, f.ingestErr
	}
	f.ingests = append(f.ingests, ingested{owner, message, repliedTo})
	return memory.Record{ID: "r", Owner: owner, Message: message, RepliedTo: repliedTo}, nil
}

type failingCompleter struct{ err error }

func (f failingCompleter) Chat(context.Context, []provider.Message, []provider.ToolSchema, provider.Sampling) (*provider.Response, error) {
	return nil, f.err
}
func (f failingCompleter) Name() string { return "failing" }

func newAgent(t *testing.T, c provider.Completer, r Retriever, opts ...func(*Config)) (*Agent, *conversation.Store) {
	t.Helper()
	sessions := conversation.NewStore()
	cfg := Config{
		Completer: c,
		Retriever: r,
		Sessions:  sessions,
		Now:       func() time.Time { return time.Date(2024, 3, 2, 15, 4, 0, 0, time.UTC) },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	return a, sessions
}

func toolCall(name, args string) provider.ToolCall {
	return provider.ToolCall{ID: "call_" + name, Name: name, Args: args}
}

func lastTurns(t *testing.T, s *conversation.Store, owner string) []conversation.Turn {
	t.Helper()
	turns, err := s.Snapshot(context.Background(), owner)
	require.NoError(t, err)
	return turns
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Retriever: &fakeRetriever{}, Sessions: conversation.NewStore()})
	assert.Error(t, err)
	_, err = New(Config{Completer: provider.NewStubProvider(), Sessions: conversation.NewStore()})
	assert.Error(t, err)
	_, err = New(Config{Completer: provider.NewStubProvider(), Retriever: &fakeRetriever{}})
	assert.Error(t, err)
}

func TestHandleTurn_NoToolCalls(t *testing.T) {
	stub := provider.NewStubProvider(provider.Response{Content: "Hi there!"})
	ret := &fakeRetriever{}
	a, sessions := newAgent(t, stub, ret)

	reply := a.HandleTurn(context.Background(), "1", "hello")
	a.Wait()

	assert.Equal(t, "Hi there!", reply)
	require.Len(t, stub.Calls(), 1, "exactly one model call")
	assert.Len(t, stub.ToolsOffered()[0], 2)

	msgs := stub.Calls()[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "March 2, 2024, 10:04 AM")
	assert.Equal(t, "user", msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "SenderID is: 1.")
	assert.True(t, strings.HasSuffix(msgs[1].Content, "\nhello"))

	turns := lastTurns(t, sessions, "1")
	require.Len(t, turns, 2)
	assert.Equal(t, conversation.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Hi there!", turns[1].Content)

	require.Len(t, ret.ingests, 1)
	assert.Equal(t, ingested{"1", "hello", memory.ConversationStart}, ret.ingests[0])
}

func TestHandleTurn_RetrieveMemory(t *testing.T) {
	stub := provider.NewStubProvider(
		provider.Response{ToolCalls: []provider.ToolCall{toolCall("retrieveMemory", `{"inquiry":"pets","userID":"1"}`)}},
		provider.Response{Content: "Your pets are Rex and Tom."},
	)
	ret := &fakeRetriever{relevant: []memory.Result{{
		Message:   "My pets are named Rex and Tom",
		Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}}}
	a, sessions := newAgent(t, stub, ret)

	reply := a.HandleTurn(context.Background(), "1", "what are my pets called?")
	a.Wait()

	assert.Equal(t, "Your pets are Rex and Tom.", reply)
	calls := stub.Calls()
	require.Len(t, calls, 2)
	assert.Nil(t, stub.ToolsOffered()[1], "second call offers no tools")

	ctxTurn := calls[1][len(calls[1])-1]
	assert.Equal(t, "system", ctxTurn.Role)
	assert.True(t, strings.HasPrefix(ctxTurn.Content, "Memory retrieved: ["))
	assert.Contains(t, ctxTurn.Content, "Rex and Tom")
	assert.Equal(t, []string{"1|pets"}, ret.queries)

	turns := lastTurns(t, sessions, "1")
	require.Len(t, turns, 3)
	assert.Equal(t, conversation.RoleSystem, turns[1].Role)
}

func TestHandleTurn_NoneFound(t *testing.T) {
	stub := provider.NewStubProvider(
		provider.Response{ToolCalls: []provider.ToolCall{toolCall("retrieveMemoryByDateRange", `{"userID":"1","startingDate":"2024-01-01","endingDate":"2024-01-31"}`)}},
		provider.Response{Content: "Nothing from January."},
	)
	a, _ := newAgent(t, stub, &fakeRetriever{})

	reply := a.HandleTurn(context.Background(), "1", "what did I say in January?")
	a.Wait()

	assert.Equal(t, "Nothing from January.", reply)
	calls := stub.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, `Memories retrieved by date range: ["none found"]`, calls[1][len(calls[1])-1].Content)
}

func TestHandleTurn_FailingTool(t *testing.T) {
	stub := provider.NewStubProvider(
		provider.Response{ToolCalls: []provider.ToolCall{toolCall("retrieveMemory", `{"inquiry":"pets","userID":"1"}`)}},
		provider.Response{Content: "I can't recall right now."},
	)
	ret := &fakeRetriever{err: errors.New("database unavailable")}
	a, _ := newAgent(t, stub, ret)

	reply := a.HandleTurn(context.Background(), "1", "pets?")
	a.Wait()

	assert.Equal(t, "I can't recall right now.", reply)
	calls := stub.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Memory retrieval failed.", calls[1][len(calls[1])-1].Content)
}

func TestHandleTurn_MalformedArgumentsFailTheTool(t *testing.T) {
	stub := provider.NewStubProvider(
		provider.Response{ToolCalls: []provider.ToolCall{toolCall("retrieveMemoryByDateRange", `{"userID":"1"}`)}},
		provider.Response{Content: "ok"},
	)
	ret := &fakeRetriever{}
	a, _ := newAgent(t, stub, ret)

	assert.Equal(t, "ok", a.HandleTurn(context.Background(), "1", "hi"))
	a.Wait()

	calls := stub.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Memory retrieval by date range failed.", calls[1][len(calls[1])-1].Content)
	assert.Empty(t, ret.queries)
}

func TestHandleTurn_UnknownToolOnly(t *testing.T) {
	stub := provider.NewStubProvider(provider.Response{
		Content:   "Let me think.",
		ToolCalls: []provider.ToolCall{toolCall("deleteEverything", `{}`)},
	})
	a, _ := newAgent(t, stub, &fakeRetriever{})

	reply := a.HandleTurn(context.Background(), "1", "hi")
	a.Wait()

	assert.Equal(t, "Let me think.", reply)
	assert.Len(t, stub.Calls(), 1, "no second call without context turns")
}

func TestHandleTurn_SecondResponseToolCallsIgnored(t *testing.T) {
	stub := provider.NewStubProvider(
		provider.Response{ToolCalls: []provider.ToolCall{toolCall("retrieveMemory", `{"inquiry":"x","userID":"1"}`)}},
		provider.Response{
			Content:   "done",
			ToolCalls: []provider.ToolCall{toolCall("retrieveMemory", `{"inquiry":"y","userID":"1"}`)},
		},
	)
	ret := &fakeRetriever{}
	a, _ := newAgent(t, stub, ret)

	assert.Equal(t, "done", a.HandleTurn(context.Background(), "1", "hi"))
	a.Wait()

	assert.Len(t, stub.Calls(), 2)
	assert.Equal(t, []string{"1|x"}, ret.queries)
}

func TestHandleTurn_MultipleToolCallsInOrder(t *testing.T) {
	stub := provider.NewStubProvider(
		provider.Response{ToolCalls: []provider.ToolCall{
			toolCall("retrieveMemory", `{"inquiry":"pets","userID":"1"}`),
			toolCall("retrieveMemoryByDateRange", `{"userID":"1","startingDate":"2024-03-01","endingDate":"2024-03-02"}`),
		}},
		provider.Response{Content: "both"},
	)
	a, _ := newAgent(t, stub, &fakeRetriever{})

	assert.Equal(t, "both", a.HandleTurn(context.Background(), "1", "hi"))
	a.Wait()

	second := stub.Calls()[1]
	n := len(second)
	assert.True(t, strings.HasPrefix(second[n-2].Content, "Memory retrieved: "))
	assert.True(t, strings.HasPrefix(second[n-1].Content, "Memories retrieved by date range: "))
}

func TestHandleTurn_GuardBudget(t *testing.T) {
	stub := provider.NewStubProvider(
		provider.Response{ToolCalls: []provider.ToolCall{
			toolCall("retrieveMemory", `{"inquiry":"a","userID":"1"}`),
			toolCall("retrieveMemory", `{"inquiry":"b","userID":"1"}`),
		}},
		provider.Response{Content: "ok"},
	)
	ret := &fakeRetriever{}
	a, _ := newAgent(t, stub, ret, func(c *Config) {
		c.Guard = guard.New(guard.Policy{MaxToolCalls: 1, AllowedOwners: []string{"*"}})
	})

	assert.Equal(t, "ok", a.HandleTurn(context.Background(), "1", "hi"))
	a.Wait()

	assert.Equal(t, []string{"1|a"}, ret.queries)
	second := stub.Calls()[1]
	assert.Equal(t, "Memory retrieval failed.", second[len(second)-1].Content)
}

func TestHandleTurn_GuardOwner(t *testing.T) {
	stub := provider.NewStubProvider(
		provider.Response{ToolCalls: []provider.ToolCall{toolCall("retrieveMemory", `{"inquiry":"a","userID":"2"}`)}},
		provider.Response{Content: "ok"},
	)
	ret := &fakeRetriever{}
	a, _ := newAgent(t, stub, ret, func(c *Config) {
		c.Guard = guard.New(guard.Policy{AllowedOwners: []string{"1"}})
	})

	a.HandleTurn(context.Background(), "1", "hi")
	a.Wait()
	assert.Empty(t, ret.queries)
}

func TestHandleTurn_ModelErrorApologises(t *testing.T) {
	a, sessions := newAgent(t, failingCompleter{err: errors.New("boom")}, &fakeRetriever{})

	reply := a.HandleTurn(context.Background(), "1", "hi")
	a.Wait()

	assert.Equal(t, Apology, reply)
	for _, turn := range lastTurns(t, sessions, "1") {
		assert.NotEqual(t, conversation.RoleAssistant, turn.Role)
	}
}

func TestHandleTurn_ModelErrorStillPersistsSession(t *testing.T) {
	backend := store.NewInMemoryStore()
	sessions := conversation.NewStore(conversation.WithBackend(backend))
	a, err := New(Config{
		Completer: failingCompleter{err: errors.New("boom")},
		Retriever: &fakeRetriever{},
		Sessions:  sessions,
	})
	require.NoError(t, err)

	assert.Equal(t, Apology, a.HandleTurn(context.Background(), "1", "hi"))
	a.Wait()

	saved, err := backend.LoadTurns(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, conversation.RoleUser, saved[0].Role)
	assert.Contains(t, saved[0].Content, "hi")
}

func TestHandleTurn_EmptyReply(t *testing.T) {
	stub := provider.NewStubProvider(provider.Response{Content: ""})
	a, _ := newAgent(t, stub, &fakeRetriever{})

	assert.Equal(t, EmptyReply, a.HandleTurn(context.Background(), "1", "hi"))
	a.Wait()
}

func TestHandleTurn_IngestFailureDoesNotAffectReply(t *testing.T) {
	stub := provider.NewStubProvider(provider.Response{Content: "fine"})
	a, _ := newAgent(t, stub, &fakeRetriever{ingestErr: errors.New("disk full")})

	assert.Equal(t, "fine", a.HandleTurn(context.Background(), "1", "hi"))
	a.Wait()
}

func TestHandleTurn_RepliedToIsPreviousTurn(t *testing.T) {
	stub := provider.NewStubProvider(
		provider.Response{Content: "Nice to meet you."},
		provider.Response{Content: "Sure."},
	)
	ret := &fakeRetriever{}
	a, _ := newAgent(t, stub, ret)

	a.HandleTurn(context.Background(), "1", "I'm Sam")
	a.Wait()
	a.HandleTurn(context.Background(), "1", "remember that")
	a.Wait()

	require.Len(t, ret.ingests, 2)
	assert.Equal(t, memory.ConversationStart, ret.ingests[0].repliedTo)
	assert.Equal(t, "Nice to meet you.", ret.ingests[1].repliedTo)
}

func TestHandleTurn_EventsPublished(t *testing.T) {
	stub := provider.NewStubProvider(
		provider.Response{ToolCalls: []provider.ToolCall{toolCall("retrieveMemory", `{"inquiry":"a","userID":"1"}`)}},
		provider.Response{Content: "ok"},
	)
	bus := NewEventBus()
	var mu sync.Mutex
	var types []EventType
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Type != EventMemoryIngested {
			types = append(types, e.Type)
		}
	})
	a, _ := newAgent(t, stub, &fakeRetriever{}, func(c *Config) { c.Events = bus })

	a.HandleTurn(context.Background(), "1", "hi")
	a.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{
		EventTurnStart,
		EventModelRequest, EventModelResponse,
		EventToolCallStart, EventToolCallEnd,
		EventModelRequest, EventModelResponse,
		EventTurnComplete,
	}, types)
}

func TestIngest(t *testing.T) {
	stub := provider.NewStubProvider(provider.Response{Content: "hello back"})
	ret := &fakeRetriever{}
	a, _ := newAgent(t, stub, ret)

	require.NoError(t, a.Ingest(context.Background(), "7", "first note"))
	a.HandleTurn(context.Background(), "7", "hello")
	a.Wait()
	require.NoError(t, a.Ingest(context.Background(), "7", "later note"))

	require.Len(t, ret.ingests, 3)
	assert.Equal(t, memory.ConversationStart, ret.ingests[0].repliedTo)
	assert.Equal(t, "hello back", ret.ingests[2].repliedTo)
}

func TestHandleTurn_PetsEndToEnd(t *testing.T) {
	stub := provider.NewStubProvider(
		provider.Response{Content: "Lovely names!"},
		provider.Response{ToolCalls: []provider.ToolCall{toolCall("retrieveMemory", `{"inquiry":"pets","userID":"1"}`)}},
		provider.Response{Content: "Rex and Tom."},
	)
	backing := store.NewInMemoryStore()
	retriever := memory.NewRetriever(backing, stub, observe.Discard())
	a, _ := newAgent(t, stub, retriever)

	a.HandleTurn(context.Background(), "1", "my pets are named Rex and Tom")
	a.Wait()

	reply := a.HandleTurn(context.Background(), "1", "what are my pets named?")
	a.Wait()
	assert.Equal(t, "Rex and Tom.", reply)

	calls := stub.Calls()
	require.Len(t, calls, 3)
	ctxTurn := calls[2][len(calls[2])-1].Content
	assert.True(t, strings.HasPrefix(ctxTurn, "Memory retrieved: "))
	assert.Contains(t, ctxTurn, "my pets are named Rex and Tom")

	records, err := backing.FetchAll(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

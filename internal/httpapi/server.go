// Package httpapi exposes the agent over HTTP and WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/recall/internal/guard"
	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/runtime"
)

// Agent is the conversational side of the server.
type Agent interface {
	HandleTurn(ctx context.Context, owner, text string) string
	Ingest(ctx context.Context, owner, text string) error
}

type Options struct {
	Agent        Agent
	Memories     runtime.Retriever
	Guard        *guard.Guard
	Observer     *observe.Observer
	Metrics      *observe.Metrics
	DefaultOwner string

	// AllowAnyOrigin disables the same-origin check on WebSocket upgrades.
	AllowAnyOrigin bool
}

type Server struct {
	opts     Options
	upgrader websocket.Upgrader
}

func New(opts Options) *Server {
	if opts.Guard == nil {
		opts.Guard = guard.New(guard.DefaultPolicy)
	}
	if opts.Observer == nil {
		opts.Observer = observe.Discard()
	}
	if opts.DefaultOwner == "" {
		opts.DefaultOwner = "1"
	}
	s := &Server{opts: opts}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())

	r.Post("/v1/turns", s.handleTurn)
	r.Post("/v1/messages", s.handleIngest)
	r.Get("/v1/memories/search", s.handleSearch)
	r.Get("/v1/memories/range", s.handleRange)
	r.Get("/v1/chat/ws", s.handleChatWS)
	return r
}

const requestIDHeader = "X-Request-ID"

type ctxKey struct{}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		began := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		s.opts.Observer.Log().Info().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("duration", time.Since(began).String()).
			Msg("request served")
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.opts.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type messageRequest struct {
	Owner   string `json:"owner"`
	Message string `json:"message"`
}

type turnResponse struct {
	RequestID string `json:"request_id"`
	Owner     string `json:"owner"`
	Reply     string `json:"reply"`
}

// inbound validates a message at the edge and fills in the default owner.
func (s *Server) inbound(req *messageRequest) (int, string, string) {
	req.Owner = strings.TrimSpace(req.Owner)
	if req.Owner == "" {
		req.Owner = s.opts.DefaultOwner
	}
	if strings.TrimSpace(req.Message) == "" {
		return http.StatusBadRequest, "invalid_request", "message is required"
	}
	if v := s.opts.Guard.CheckInput(req.Message); v != nil {
		return http.StatusRequestEntityTooLarge, v.Rule, v.Message
	}
	return 0, "", ""
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if status, code, msg := s.inbound(&req); status != 0 {
		respondError(w, status, code, msg)
		return
	}

	reply := s.opts.Agent.HandleTurn(r.Context(), req.Owner, req.Message)
	respondJSON(w, http.StatusOK, turnResponse{
		RequestID: requestIDFrom(r.Context()),
		Owner:     req.Owner,
		Reply:     reply,
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if status, code, msg := s.inbound(&req); status != 0 {
		respondError(w, status, code, msg)
		return
	}

	if err := s.opts.Agent.Ingest(r.Context(), req.Owner, req.Message); err != nil {
		s.respondRetrievalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"request_id": requestIDFrom(r.Context()),
		"status":     "stored",
	})
}

type memoriesResponse struct {
	Owner   string          `json:"owner"`
	Results []memory.Result `json:"results"`
}

func (s *Server) memoryOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		owner = s.opts.DefaultOwner
	}
	if v := s.opts.Guard.CheckOwner(owner); v != nil {
		respondError(w, http.StatusForbidden, v.Rule, v.Message)
		return "", false
	}
	return owner, true
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.memoryOwner(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	query := q.Get("q")
	if strings.TrimSpace(query) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter q is required")
		return
	}
	angle, err := floatParam(q, "angle", runtime.RelevantAngle)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	limit, err := intParam(q, "limit", runtime.RelevantDepth)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	results, err := s.opts.Memories.FindRelevant(r.Context(), owner, query, angle, limit)
	if err != nil {
		s.respondRetrievalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, memoriesResponse{Owner: owner, Results: nonNil(results)})
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.memoryOwner(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	results, err := s.opts.Memories.FindByDateRange(r.Context(), owner, q.Get("start"), q.Get("end"))
	if err != nil {
		s.respondRetrievalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, memoriesResponse{Owner: owner, Results: nonNil(results)})
}

func (s *Server) respondRetrievalError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, memory.ErrInvalidArgument) {
		respondError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	s.opts.Observer.Log().Error().
		Str("request_id", requestIDFrom(r.Context())).
		Str("path", r.URL.Path).
		Err(err).
		Msg("memory request failed")
	respondError(w, http.StatusBadGateway, "collaborator_error", "memory store or embedder unavailable")
}

func nonNil(results []memory.Result) []memory.Result {
	if results == nil {
		return []memory.Result{}
	}
	return results
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func floatParam(q url.Values, key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.New(key + " must be a number")
	}
	return f, nil
}

func intParam(q url.Values, key string, fallback int) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}

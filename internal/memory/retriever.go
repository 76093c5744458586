package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/google/uuid"
)

const defaultTimeout = 30 * time.Second

// Retriever answers similarity and date-range lookups and writes new records.
type Retriever struct {
	store    Store
	embedder Embedder
	observe  *observe.Observer
	metrics  *observe.Metrics
	timeout  time.Duration
	location *time.Location
	now      func() time.Time
}

type Option func(*Retriever)

// WithTimeout bounds every single embedder or store call.
func WithTimeout(d time.Duration) Option {
	return func(r *Retriever) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithMetrics(m *observe.Metrics) Option {
	return func(r *Retriever) { r.metrics = m }
}

// WithLocation sets the zone for wall-clock date boundaries. Bare ISO dates
// stay UTC.
func WithLocation(loc *time.Location) Option {
	return func(r *Retriever) {
		if loc != nil {
			r.location = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Retriever) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRetriever(s Store, e Embedder, o *observe.Observer, opts ...Option) *Retriever {
	r := &Retriever{
		store:    s,
		embedder: e,
		observe:  o,
		timeout:  defaultTimeout,
		location: time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type scoredRecord struct {
	rec        Record
	similarity float64
	overlap    int
}

// FindRelevant ranks the owner's embedded records against query. Records below
// the similarity floor derived from angle are dropped; the rest are ordered by
// lexical overlap, then similarity, and cut to maxResults.
func (r *Retriever) FindRelevant(ctx context.Context, owner, query string, angle float64, maxResults int) ([]Result, error) {
	threshold, err := Threshold(angle)
	if err != nil {
		return nil, err
	}
	if maxResults < 0 {
		return nil, invalidArgument("maxResults must not be negative, got %d", maxResults)
	}

	ctx, span := r.observe.StartSpan(ctx, "memory.FindRelevant", "owner", owner)
	defer span.End()

	queryVec, err := r.embed(ctx, query)
	if err != nil {
		observe.Fail(span, err)
		return nil, err
	}

	records, err := r.fetch(ctx, "fetch_with_embedding", func(ctx context.Context) ([]Record, error) {
		return r.store.FetchWithEmbedding(ctx, owner)
	})
	if err != nil {
		observe.Fail(span, err)
		return nil, err
	}

	queryWords := strings.Fields(strings.ToLower(query))
	candidates := make([]scoredRecord, 0, len(records))
	for _, rec := range records {
		vec, err := rec.Embedding.Decode()
		if err == nil && len(vec) != len(queryVec) {
			err = &DecodeError{Kind: rec.Embedding.Kind, Err: errors.New("dimension mismatch")}
		}
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				de.RecordID = rec.ID
			}
			r.observe.Log().Warn().
				Str("owner", owner).
				Str("record", rec.ID).
				Str("timestamp", rec.Timestamp.Format(time.RFC3339Nano)).
				Err(err).
				Msg("skipping record with undecodable embedding")
			r.metrics.CountDecodeFailure()
			continue
		}

		sim := CosineSimilarity(queryVec, vec)
		if math.IsNaN(sim) || sim < threshold {
			continue
		}
		candidates = append(candidates, scoredRecord{
			rec:        rec,
			similarity: sim,
			overlap:    LexicalOverlap(queryWords, rec.Message),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].overlap != candidates[j].overlap {
			return candidates[i].overlap > candidates[j].overlap
		}
		return candidates[i].similarity > candidates[j].similarity
	})
	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{Message: c.rec.Message, Timestamp: c.rec.Timestamp}
	}

	r.observe.Log().Info().
		Str("owner", owner).
		Int("scanned", len(records)).
		Int("returned", len(results)).
		Msg("similarity retrieval complete")
	return results, nil
}

// FindByDateRange returns the owner's records with start <= timestamp <= end,
// in store order.
func (r *Retriever) FindByDateRange(ctx context.Context, owner, start, end string) ([]Result, error) {
	from, err := ParseBound(start, r.location)
	if err != nil {
		return nil, err
	}
	to, err := ParseBound(end, r.location)
	if err != nil {
		return nil, err
	}

	ctx, span := r.observe.StartSpan(ctx, "memory.FindByDateRange", "owner", owner)
	defer span.End()

	began := time.Now()
	records, err := r.fetch(ctx, "fetch_all", func(ctx context.Context) ([]Record, error) {
		return r.store.FetchAll(ctx, owner)
	})
	if err != nil {
		observe.Fail(span, err)
		return nil, err
	}
	fetched := time.Since(began)

	filterStart := time.Now()
	results := make([]Result, 0)
	for _, rec := range records {
		if rec.Timestamp.Before(from) || rec.Timestamp.After(to) {
			continue
		}
		results = append(results, Result{Message: rec.Message, Timestamp: rec.Timestamp})
	}
	filtered := time.Since(filterStart)
	total := time.Since(began)

	r.metrics.ObserveStage("date_range", "fetch", fetched)
	r.metrics.ObserveStage("date_range", "filter", filtered)
	r.metrics.ObserveStage("date_range", "total", total)
	r.observe.Log().Debug().
		Str("owner", owner).
		Str("start", start).
		Str("end", end).
		Str("fetch", fetched.String()).
		Str("filter", filtered.String()).
		Str("total", total.String()).
		Int("matched", len(results)).
		Msg("date range retrieval timing")

	return results, nil
}

// Ingest embeds message and appends it as a new record of owner.
func (r *Retriever) Ingest(ctx context.Context, owner, message, repliedTo string) (Record, error) {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(message) == "" {
		return Record{}, invalidArgument("owner and message are required")
	}
	if repliedTo == "" {
		repliedTo = ConversationStart
	}

	ctx, span := r.observe.StartSpan(ctx, "memory.Ingest", "owner", owner)
	defer span.End()

	vec, err := r.embed(ctx, message)
	if err != nil {
		observe.Fail(span, err)
		r.metrics.CountIngest(err)
		return Record{}, err
	}

	rec := Record{
		ID:        uuid.NewString(),
		Owner:     owner,
		Message:   message,
		RepliedTo: repliedTo,
		Embedding: VectorEmbedding(vec),
		Timestamp: r.now().UTC().Truncate(time.Microsecond),
	}

	actx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.store.Append(actx, rec); err != nil {
		err = &CollaboratorError{Op: "append", Err: err}
		observe.Fail(span, err)
		r.metrics.CountIngest(err)
		return Record{}, err
	}

	r.metrics.CountIngest(nil)
	r.observe.Log().Info().Str("owner", owner).Str("record", rec.ID).Msg("message ingested")
	return rec, nil
}

func (r *Retriever) embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, &CollaboratorError{Op: "embed", Err: err}
	}
	if len(vec) == 0 {
		return nil, &CollaboratorError{Op: "embed", Err: errors.New("empty embedding")}
	}
	return widen(vec), nil
}

func (r *Retriever) fetch(ctx context.Context, op string, fn func(context.Context) ([]Record, error)) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	records, err := fn(ctx)
	if err != nil {
		return nil, &CollaboratorError{Op: op, Err: err}
	}
	return records, nil
}

package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return []float32{0, 0, 1}, nil
	}
	return v, nil
}

type fakeStore struct {
	mu       sync.Mutex
	records  []Record
	fetchErr error
	fetches  int
}

func (f *fakeStore) FetchWithEmbedding(ctx context.Context, owner string) ([]Record, error) {
	all, err := f.FetchAll(ctx, owner)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range all {
		if r.Embedding.Present() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) FetchAll(ctx context.Context, owner string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []Record
	for _, r := range f.records {
		if r.Owner == owner {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) Append(ctx context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func rec(id, owner, msg string, emb RawEmbedding, ts time.Time) Record {
	return Record{ID: id, Owner: owner, Message: msg, Embedding: emb, Timestamp: ts}
}

func messages(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Message
	}
	return out
}

func TestFindRelevant_PetsScenario(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"what pets do I like": {1, 0, 0}}}
	st := &fakeStore{records: []Record{
		rec("1", "u1", "I like cats", VectorEmbedding([]float64{0.9, 0.1, 0}), t0),
		rec("2", "u1", "I like dogs", TextEmbedding("[0.8,0.4,0]"), t0.Add(time.Minute)),
		rec("3", "u1", "the weather is sunny", TextEmbedding("0,0,1"), t0.Add(2*time.Minute)),
		rec("4", "u2", "I like cats too", VectorEmbedding([]float64{1, 0, 0}), t0),
	}}
	r := NewRetriever(st, emb, observe.Discard())

	got, err := r.FindRelevant(context.Background(), "u1", "what pets do I like", 80, 15)
	require.NoError(t, err)
	assert.Equal(t, []string{"I like cats", "I like dogs"}, messages(got))
	assert.True(t, got[0].Timestamp.Equal(t0))
}

func TestFindRelevant_RankingKey(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"red apple": {1, 0}}}
	st := &fakeStore{records: []Record{
		rec("b", "u", "banana", VectorEmbedding([]float64{0.99, 0.141}), t0),
		rec("c", "u", "apple", VectorEmbedding([]float64{0.3, 0.954}), t0),
		rec("a", "u", "red apple pie", VectorEmbedding([]float64{0.5, 0.866}), t0),
		rec("d", "u", "red car", VectorEmbedding([]float64{0.8, 0.6}), t0),
	}}
	r := NewRetriever(st, emb, observe.Discard())

	got, err := r.FindRelevant(context.Background(), "u", "red apple", 80, 10)
	require.NoError(t, err)
	// Overlap first (2, 1, 1, 0); similarity breaks the tie between "red car" and "apple".
	assert.Equal(t, []string{"red apple pie", "red car", "apple", "banana"}, messages(got))
}

func TestFindRelevant_ThresholdAndLimit(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	st := &fakeStore{records: []Record{
		rec("1", "u", "near", VectorEmbedding([]float64{1, 0.05}), t0),
		rec("2", "u", "mid", VectorEmbedding([]float64{1, 1}), t0),
		rec("3", "u", "far", VectorEmbedding([]float64{0, 1}), t0),
		rec("4", "u", "zero", VectorEmbedding([]float64{0, 0}), t0),
	}}
	r := NewRetriever(st, emb, observe.Discard())

	t.Run("Tight angle", func(t *testing.T) {
		got, err := r.FindRelevant(context.Background(), "u", "q", 9, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"near"}, messages(got))
	})

	t.Run("Right angle admits orthogonal", func(t *testing.T) {
		got, err := r.FindRelevant(context.Background(), "u", "q", 90, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"near", "mid", "far"}, messages(got))
	})

	t.Run("Max results", func(t *testing.T) {
		got, err := r.FindRelevant(context.Background(), "u", "q", 180, 2)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("Zero results requested", func(t *testing.T) {
		got, err := r.FindRelevant(context.Background(), "u", "q", 180, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestFindRelevant_SkipsMalformedRecords(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	st := &fakeStore{records: []Record{
		rec("1", "u", "one", VectorEmbedding([]float64{1, 0, 0}), t0),
		rec("2", "u", "two", TextEmbedding("[1, 0, oops"), t0),
		rec("3", "u", "three", BytesEmbedding([]byte("1,0.1,0")), t0),
		rec("4", "u", "four", TextEmbedding("0.9,0,0.1"), t0),
	}}
	metrics := observe.NewMetrics("test")
	r := NewRetriever(st, emb, observe.Discard(), WithMetrics(metrics))

	got, err := r.FindRelevant(context.Background(), "u", "q", 180, 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.NotContains(t, messages(got), "two")
}

func TestFindRelevant_DimensionMismatchIsDropped(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	st := &fakeStore{records: []Record{
		rec("1", "u", "short", VectorEmbedding([]float64{1, 0}), t0),
		rec("2", "u", "ok", VectorEmbedding([]float64{1, 0, 0}), t0),
	}}
	r := NewRetriever(st, emb, observe.Discard())

	got, err := r.FindRelevant(context.Background(), "u", "q", 180, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, messages(got))
}

func TestFindRelevant_InvalidArgumentsDoNoIO(t *testing.T) {
	emb := &fakeEmbedder{}
	st := &fakeStore{}
	r := NewRetriever(st, emb, observe.Discard())

	for _, angle := range []float64{-1, 181} {
		_, err := r.FindRelevant(context.Background(), "u", "q", angle, 5)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidArgument))
	}
	_, err := r.FindRelevant(context.Background(), "u", "q", 80, -1)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	assert.Zero(t, emb.calls)
	assert.Zero(t, st.fetches)
}

func TestFindRelevant_CollaboratorFailures(t *testing.T) {
	t.Run("Embedder", func(t *testing.T) {
		boom := errors.New("model offline")
		r := NewRetriever(&fakeStore{}, &fakeEmbedder{err: boom}, observe.Discard())

		_, err := r.FindRelevant(context.Background(), "u", "q", 80, 5)
		var ce *CollaboratorError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "embed", ce.Op)
		assert.True(t, errors.Is(err, boom))
	})

	t.Run("Store", func(t *testing.T) {
		boom := errors.New("disk gone")
		r := NewRetriever(&fakeStore{fetchErr: boom}, &fakeEmbedder{}, observe.Discard())

		_, err := r.FindRelevant(context.Background(), "u", "q", 80, 5)
		var ce *CollaboratorError
		require.True(t, errors.As(err, &ce))
		assert.True(t, errors.Is(err, boom))
	})
}

type slowEmbedder struct{}

func (slowEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFindRelevant_Timeout(t *testing.T) {
	r := NewRetriever(&fakeStore{}, slowEmbedder{}, observe.Discard(), WithTimeout(20*time.Millisecond))

	_, err := r.FindRelevant(context.Background(), "u", "q", 80, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFindByDateRange_InclusiveBounds(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	st := &fakeStore{records: []Record{
		rec("1", "u", "end", RawEmbedding{}, end),
		rec("2", "u", "before", RawEmbedding{}, start.Add(-time.Microsecond)),
		rec("3", "u", "start", RawEmbedding{}, start),
		rec("4", "u", "after", RawEmbedding{}, end.Add(time.Microsecond)),
		rec("5", "u", "middle", TextEmbedding("garbage"), start.Add(12*time.Hour)),
		rec("6", "other", "foreign", RawEmbedding{}, start),
	}}
	r := NewRetriever(st, &fakeEmbedder{}, observe.Discard(), WithMetrics(observe.NewMetrics("test")))

	got, err := r.FindByDateRange(context.Background(), "u", "2024-01-02T00:00:00Z", "2024-01-03T00:00:00Z")
	require.NoError(t, err)
	// Store order is kept, not re-sorted by time.
	assert.Equal(t, []string{"end", "start", "middle"}, messages(got))
}

func TestFindByDateRange_DateOnlyBoundsAreUTC(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	st := &fakeStore{records: []Record{
		rec("1", "u", "early utc", RawEmbedding{}, time.Date(2024, 1, 5, 2, 0, 0, 0, time.UTC)),
		rec("2", "u", "day before", RawEmbedding{}, time.Date(2024, 1, 4, 23, 0, 0, 0, time.UTC)),
	}}
	r := NewRetriever(st, &fakeEmbedder{}, observe.Discard(), WithLocation(ny))

	got, err := r.FindByDateRange(context.Background(), "u", "2024-01-05", "2024-01-06")
	require.NoError(t, err)
	assert.Equal(t, []string{"early utc"}, messages(got))
}

func TestFindByDateRange_Errors(t *testing.T) {
	st := &fakeStore{}
	r := NewRetriever(st, &fakeEmbedder{}, observe.Discard())

	_, err := r.FindByDateRange(context.Background(), "u", "not a date", "2024-01-01")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Zero(t, st.fetches)

	st.fetchErr = errors.New("db closed")
	_, err = r.FindByDateRange(context.Background(), "u", "2024-01-01", "2024-01-02")
	var ce *CollaboratorError
	assert.True(t, errors.As(err, &ce))
}

func TestFindByDateRange_EmptyWhenReversed(t *testing.T) {
	st := &fakeStore{records: []Record{rec("1", "u", "x", RawEmbedding{}, t0)}}
	r := NewRetriever(st, &fakeEmbedder{}, observe.Discard())

	got, err := r.FindByDateRange(context.Background(), "u", "2030-01-01", "2000-01-01")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIngest(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"hello there": {0.5, 0.5}}}
	st := &fakeStore{}
	r := NewRetriever(st, emb, observe.Discard(), WithClock(func() time.Time { return t0 }))

	got, err := r.Ingest(context.Background(), "u1", "hello there", "")
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, ConversationStart, got.RepliedTo)
	assert.True(t, got.Timestamp.Equal(t0))

	require.Len(t, st.records, 1)
	vec, err := st.records[0].Embedding.Decode()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, vec, 1e-9)

	_, err = r.Ingest(context.Background(), "u1", "second", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "hello there", st.records[1].RepliedTo)
}

func TestIngest_Errors(t *testing.T) {
	st := &fakeStore{}
	r := NewRetriever(st, &fakeEmbedder{err: errors.New("down")}, observe.Discard())

	_, err := r.Ingest(context.Background(), "", "text", "")
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = r.Ingest(context.Background(), "u", "text", "")
	var ce *CollaboratorError
	assert.True(t, errors.As(err, &ce))
	assert.Empty(t, st.records)
}

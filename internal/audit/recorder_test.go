package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ossettyres/tyre-api/internal/metrics"
	"github.com/ossettyres/tyre-api/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu      sync.Mutex
	batches [][]Record
	err     error
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Write(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Record, len(records))
	copy(cp, records)
	m.batches = append(m.batches, cp)
	return m.err
}

func (m *memorySink) records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

func TestRecorder_CloseDrainsBuffer(t *testing.T) {
	sink := &memorySink{}
	rec := NewRecorder(Config{BufferSize: 100, BatchSize: 10, FlushInterval: time.Hour}, sink)

	for i := 0; i < 25; i++ {
		rec.Record(Record{Kind: KindLookup, Subject: "AB12CDE"})
	}
	rec.Close()

	got := sink.records()
	assert.Len(t, got, 25)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[0], 10)
}

func TestRecorder_FlushesOnInterval(t *testing.T) {
	sink := &memorySink{}
	rec := NewRecorder(Config{BufferSize: 10, BatchSize: 100, FlushInterval: 20 * time.Millisecond}, sink)
	defer rec.Close()

	rec.Record(Record{Kind: KindEnquiry})

	assert.Eventually(t, func() bool { return len(sink.records()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRecorder_RecordAfterCloseIsIgnored(t *testing.T) {
	sink := &memorySink{}
	rec := NewRecorder(Config{}, sink)
	rec.Close()
	rec.Close()

	assert.NotPanics(t, func() { rec.Record(Record{Kind: KindLookup}) })
	assert.Empty(t, sink.records())
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.Record(Record{})
		rec.Close()
	})
}

func TestRecorder_SinkErrorCounted(t *testing.T) {
	m := metrics.New()
	sink := &memorySink{err: errors.New("boom")}
	rec := NewRecorder(Config{Metrics: m}, sink)

	rec.Record(Record{Kind: KindLookup})
	rec.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditWritten.WithLabelValues("memory", "error")))
}

func TestRecorder_FillsTimestamp(t *testing.T) {
	sink := &memorySink{}
	rec := NewRecorder(Config{}, sink)
	rec.Record(Record{Kind: KindLookup})
	rec.Close()

	got := sink.records()
	require.Len(t, got, 1)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestIPHasher(t *testing.T) {
	plain := ipHasher("")
	assert.Equal(t, "203.0.113.7", plain("203.0.113.7"))

	hash := ipHasher("secret")
	a := hash("203.0.113.7")
	assert.Len(t, a, 24)
	assert.Equal(t, a, hash("203.0.113.7"))
	assert.NotEqual(t, a, hash("203.0.113.8"))
	assert.NotEqual(t, a, ipHasher("other")("203.0.113.7"))
	assert.Equal(t, "", hash(""))

	long := ipHasher(string(make([]byte, 100)))
	assert.Len(t, long("203.0.113.7"), 24)
}

type fakeAppender struct {
	calls map[string][][]any
	err   error
}

func (f *fakeAppender) Append(_ context.Context, rng string, rows [][]any) error {
	if f.calls == nil {
		f.calls = make(map[string][][]any)
	}
	f.calls[rng] = append(f.calls[rng], rows...)
	return f.err
}

func TestSheetsSink_RoutesByKind(t *testing.T) {
	app := &fakeAppender{}
	sink := NewSheetsSink(app, map[Kind]string{KindLookup: "api logging tracker!A:Z"})

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err := sink.Write(context.Background(), []Record{
		{Kind: KindLookup, Timestamp: ts, Subject: "AB12CDE", Method: "GET", Status: 200, UpstreamStatus: 200, Duration: 42 * time.Millisecond, RequestID: "r1"},
		{Kind: KindEnquiry, Subject: "a@b.com"},
	})
	require.NoError(t, err)

	require.Len(t, app.calls, 1)
	rows := app.calls["api logging tracker!A:Z"]
	require.Len(t, rows, 1)
	assert.Equal(t, []any{"2024-05-01T12:00:00Z", "lookup", "", "AB12CDE", "GET", "200", "200", "42", "r1", ""}, rows[0])
}

func TestSheetsSink_AppendError(t *testing.T) {
	app := &fakeAppender{err: errors.New("quota")}
	sink := NewSheetsSink(app, map[Kind]string{KindLookup: "log!A:Z"})

	err := sink.Write(context.Background(), []Record{{Kind: KindLookup}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log!A:Z")
}

type fakeWriter struct {
	logs []*models.AuditLog
}

func (f *fakeWriter) CreateBatch(_ context.Context, logs []*models.AuditLog) error {
	f.logs = append(f.logs, logs...)
	return nil
}

func TestDatabaseSink_MapsRecords(t *testing.T) {
	w := &fakeWriter{}
	sink := NewDatabaseSink(w)

	err := sink.Write(context.Background(), []Record{
		{Kind: KindEnquiry, Subject: "a@b.com", Status: 429, Duration: 3 * time.Millisecond, Detail: "rate limited"},
	})
	require.NoError(t, err)

	require.Len(t, w.logs, 1)
	assert.Equal(t, "enquiry", w.logs[0].Kind)
	assert.Equal(t, 429, w.logs[0].StatusCode)
	assert.Equal(t, 3, w.logs[0].ResponseTimeMs)
	assert.Equal(t, "rate limited", w.logs[0].Detail)
}

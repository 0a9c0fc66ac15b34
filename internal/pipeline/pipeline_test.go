package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/couchcryptid/quake-detect/internal/observability"
	"github.com/couchcryptid/quake-detect/internal/pipeline"
	"github.com/couchcryptid/quake-detect/internal/station"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawRecord
	errs    []error
	index   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawRecord, error) {
	i := int(m.index.Add(1) - 1)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type mockSink struct {
	err error

	mu      sync.Mutex
	records []station.Record
}

func (m *mockSink) PushWaveform(rec station.Record) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- tests ---

func TestIngestor_Run_HappyPath(t *testing.T) {
	committed := false
	raw := makeRawRecord(t, station.Record{StationID: 7, StartMs: 1_000, SampleRate: 50, Samples: []int32{1, 2, 3}})
	raw.Commit = func(_ context.Context) error {
		committed = true
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawRecord{{raw}}}
	sink := &mockSink{}
	metrics := observability.NewMetricsForTesting()
	p := pipeline.NewIngestor(ext, sink, discardLogger(), metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	require.Len(t, sink.records, 1)
	assert.Equal(t, 7, sink.records[0].StationID)
	assert.True(t, committed)
	assert.True(t, p.Ready())
	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.RecordsConsumed), 0)
}

func TestIngestor_Run_ContextCancellation(t *testing.T) {
	ext := &mockExtractor{}
	sink := &mockSink{}
	p := pipeline.NewIngestor(ext, sink, discardLogger(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, sink.records)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestIngestor_Run_DecodeErrorIsSkippedAndCommitted(t *testing.T) {
	committed := false
	raw := domain.RawRecord{Value: []byte("not json"), Topic: "seismic-waveforms", Offset: 3}
	raw.Commit = func(_ context.Context) error {
		committed = true
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawRecord{{raw}}}
	sink := &mockSink{}
	metrics := observability.NewMetricsForTesting()
	p := pipeline.NewIngestor(ext, sink, discardLogger(), metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, sink.records)
	assert.True(t, committed)
	assert.False(t, p.Ready())
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.RecordsRejected.WithLabelValues("decode")), 0)
}

func TestIngestor_Run_RejectReasons(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{name: "unknown station", err: fmt.Errorf("station 9: %w", station.ErrUnknownStation), reason: "unknown_station"},
		{name: "stale", err: fmt.Errorf("station 9: %w", station.ErrStaleRecord), reason: "stale"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := makeRawRecord(t, station.Record{StationID: 9, StartMs: 1_000, SampleRate: 50, Samples: []int32{1}})
			ext := &mockExtractor{batches: [][]domain.RawRecord{{raw}}}
			metrics := observability.NewMetricsForTesting()
			p := pipeline.NewIngestor(ext, &mockSink{err: tt.err}, discardLogger(), metrics, 10)

			ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
			defer cancel()

			require.NoError(t, p.Run(ctx))
			assert.False(t, p.Ready())
			assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.RecordsRejected.WithLabelValues(tt.reason)), 0)
		})
	}
}

func TestIngestor_Run_RetriesAfterExtractError(t *testing.T) {
	raw := makeRawRecord(t, station.Record{StationID: 1, StartMs: 1_000, SampleRate: 50, Samples: []int32{5}})
	ext := &mockExtractor{
		errs:    []error{errors.New("broker unavailable")},
		batches: [][]domain.RawRecord{nil, {raw}},
	}
	sink := &mockSink{}
	p := pipeline.NewIngestor(ext, sink, discardLogger(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Len(t, sink.records, 1)
}

func TestDecodeRecord(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr error
	}{
		{name: "empty samples", value: `{"station":1,"start_ms":5,"sample_rate":50,"samples":[]}`, wantErr: station.ErrEmptyRecord},
		{name: "no sample rate", value: `{"station":1,"start_ms":5,"samples":[1,2]}`, wantErr: station.ErrBadSampleRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pipeline.DecodeRecord(domain.RawRecord{Value: []byte(tt.value)})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := pipeline.DecodeRecord(domain.RawRecord{Value: []byte(`{"station":"x"}`)})
	require.Error(t, err)
}

func TestEncodeRecord_DecodesBack(t *testing.T) {
	want := station.Record{StationID: 12, StartMs: 1_772_366_400_000, SampleRate: 40, Samples: []int32{-3, 0, 7}}
	data, err := pipeline.EncodeRecord(want)
	require.NoError(t, err)

	got, err := pipeline.DecodeRecord(domain.RawRecord{Value: data})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// --- helpers ---

func makeRawRecord(t *testing.T, rec station.Record) domain.RawRecord {
	t.Helper()
	data, err := pipeline.EncodeRecord(rec)
	require.NoError(t, err)
	return domain.RawRecord{
		Key:   []byte(fmt.Sprint(rec.StationID)),
		Value: data,
	}
}

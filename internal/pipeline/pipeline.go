package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/quake-detect/internal/domain"
	"github.com/couchcryptid/quake-detect/internal/observability"
	"github.com/couchcryptid/quake-detect/internal/station"
)

// BatchExtractor reads up to batchSize raw waveform messages from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawRecord, error)
}

// RecordSink queues decoded records for analysis.
type RecordSink interface {
	PushWaveform(rec station.Record) error
}

// Ingestor moves waveform records from the source into the station queues.
type Ingestor struct {
	extractor BatchExtractor
	sink      RecordSink
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// NewIngestor creates an Ingestor reading batches of batchSize records.
func NewIngestor(e BatchExtractor, sink RecordSink, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Ingestor {
	return &Ingestor{
		extractor: e,
		sink:      sink,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil once at least one record has been queued.
func (p *Ingestor) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("ingestor has not queued any records yet")
	}
	return nil
}

func (p *Ingestor) Ready() bool { return p.ready.Load() }

// Run executes the ingestion loop until the context is cancelled.
func (p *Ingestor) Run(ctx context.Context) error {
	p.logger.Info("ingestor started", "batch_size", p.batchSize)
	p.metrics.IngestRunning.Set(1)
	defer p.metrics.IngestRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ingestor stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-decode-queue cycle. Returns false if the
// ingestor should stop.
func (p *Ingestor) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.RecordsConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	if queued := p.queueBatch(ctx, rawBatch); queued > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	return true
}

// queueBatch decodes each message and hands it to the sink. Rejected records
// are logged and committed so they are not redelivered. Returns the number
// of queued records.
func (p *Ingestor) queueBatch(ctx context.Context, rawBatch []domain.RawRecord) int {
	queued := 0
	for _, raw := range rawBatch {
		rec, err := DecodeRecord(raw)
		if err == nil {
			err = p.sink.PushWaveform(rec)
		}
		if err != nil {
			reason := rejectReason(err)
			p.logger.Warn("waveform record rejected",
				"error", err,
				"reason", reason,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.RecordsRejected.WithLabelValues(reason).Inc()
		} else {
			queued++
		}
		p.commitOffset(ctx, raw)
	}
	return queued
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, station.ErrUnknownStation):
		return "unknown_station"
	case errors.Is(err, station.ErrStaleRecord):
		return "stale"
	case errors.Is(err, station.ErrEmptyRecord), errors.Is(err, station.ErrBadSampleRate):
		return "invalid"
	default:
		return "decode"
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the ingestor should stop.
func (p *Ingestor) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Ingestor) commitOffset(ctx context.Context, raw domain.RawRecord) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

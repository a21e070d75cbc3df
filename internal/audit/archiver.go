package audit

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/drugquery/drugquery/internal/observability"
	"github.com/drugquery/drugquery/internal/storage"
)

const (
	DefaultRoot          = "audit"
	SchemaVersion        = "1"
	DefaultBatchSize     = 200
	DefaultFlushInterval = time.Minute
	DefaultQueueSize     = 1024

	parquetContentType = "application/vnd.apache.parquet"
	finalFlushTimeout  = 30 * time.Second
)

type Config struct {
	Root          string
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

// Archiver buffers entries in memory and uploads them as parquet batches.
// Record never blocks; entries are dropped when the queue is full.
type Archiver struct {
	store   storage.ObjectStore
	config  Config
	logger  *slog.Logger
	clock   func() time.Time
	newID   func() string
	entries chan Entry
}

func NewArchiver(store storage.ObjectStore, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Archiver{
		store:   store,
		config:  cfg,
		logger:  logger,
		clock:   time.Now,
		newID:   func() string { return uuid.NewString() },
		entries: make(chan Entry, cfg.QueueSize),
	}, nil
}

func (a *Archiver) Record(entry Entry) {
	select {
	case a.entries <- entry:
	default:
		observability.IncrementAuditDropped()
	}
}

// Run consumes entries until ctx is cancelled, then drains the queue and
// uploads whatever is still buffered before returning.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	buffer := make([]Entry, 0, a.config.BatchSize)
	for {
		select {
		case <-ctx.Done():
			buffer = a.drain(buffer)
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
			defer cancel()
			a.flush(flushCtx, buffer)
			return nil
		case entry := <-a.entries:
			buffer = append(buffer, entry)
			if len(buffer) >= a.config.BatchSize {
				a.flush(ctx, buffer)
				buffer = buffer[:0]
			}
		case <-ticker.C:
			a.flush(ctx, buffer)
			buffer = buffer[:0]
		}
	}
}

func (a *Archiver) drain(buffer []Entry) []Entry {
	for {
		select {
		case entry := <-a.entries:
			buffer = append(buffer, entry)
		default:
			return buffer
		}
	}
}

func (a *Archiver) flush(ctx context.Context, buffer []Entry) {
	for start := 0; start < len(buffer); start += a.config.BatchSize {
		end := min(start+a.config.BatchSize, len(buffer))
		err := a.upload(ctx, buffer[start:end])
		observability.ObserveAuditBatch(err)
		if err != nil {
			a.logger.ErrorContext(ctx, "audit batch upload failed",
				slog.Int("entries", end-start),
				slog.Any("error", err),
			)
		}
	}
}

func (a *Archiver) upload(ctx context.Context, batch []Entry) error {
	encoded, err := EncodeEntries(batch)
	if err != nil {
		return err
	}
	key, err := storage.BuildAuditBatchPath(a.config.Root, a.clock(), a.newID())
	if err != nil {
		return err
	}
	opts := storage.PutOptions{
		ContentType: parquetContentType,
		Metadata: map[string]string{
			"entries":        strconv.FormatInt(encoded.RecordCount, 10),
			"schema-version": SchemaVersion,
		},
	}
	if _, err := a.store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), opts); err != nil {
		return fmt.Errorf("upload audit batch: %w", err)
	}
	a.logger.DebugContext(ctx, "audit batch uploaded",
		slog.String("key", key),
		slog.Int64("entries", encoded.RecordCount),
	)
	return nil
}

// Check verifies the archive bucket for readiness probes.
func (a *Archiver) Check(ctx context.Context) error {
	return a.store.Check(ctx)
}

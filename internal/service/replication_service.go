package service

import (
	"context"
	"sync"
	"time"

	"github.com/devrev/pairdb/ledger-node/internal/chain"
	"github.com/devrev/pairdb/ledger-node/internal/errors"
	"github.com/devrev/pairdb/ledger-node/internal/kv"
	"github.com/devrev/pairdb/ledger-node/internal/metrics"
	"github.com/devrev/pairdb/ledger-node/internal/util/workerpool"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const replicationPassKey = "replication-pass"

// Publisher hands a committed item to the network
type Publisher interface {
	Publish(ctx context.Context, item chain.Item) error
}

// LogPublisher is a Publisher that only logs what it would send
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher
func (p *LogPublisher) Publish(_ context.Context, item chain.Item) error {
	p.logger.Info("Publishing chain item",
		zap.Uint32("index", item.Index),
		zap.Uint32("batch", item.Batch),
		zap.String("header_address", string(item.HeaderAddress)))
	return nil
}

// ReplicationConfig holds configuration for the replication service
type ReplicationConfig struct {
	Interval     time.Duration
	BatchSize    int
	PublishRate  float64
	PublishBurst int
	StopTimeout  time.Duration
}

// ReplicationPass describes one pass over pending items
type ReplicationPass struct {
	Published []uint32
	Failed    *uint32
	Pending   int
}

// ReplicationService publishes committed items in index order and records
// their completion. Passes never overlap.
type ReplicationService struct {
	env       *kv.Env
	publisher Publisher
	pool      *workerpool.WorkerPool
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       ReplicationConfig

	passMu sync.Mutex
	// cursor is the lowest index that may still be pending: every item
	// below it has been marked replicated
	cursor uint32

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewReplicationService creates a replication service. Passes run on pool.
func NewReplicationService(
	cfg *ReplicationConfig,
	env *kv.Env,
	publisher Publisher,
	pool *workerpool.WorkerPool,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ReplicationService {
	limit := rate.Inf
	if cfg.PublishRate > 0 {
		limit = rate.Limit(cfg.PublishRate)
	}
	burst := cfg.PublishBurst
	if burst <= 0 {
		burst = 1
	}
	c := *cfg
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}

	return &ReplicationService{
		env:       env,
		publisher: publisher,
		pool:      pool,
		limiter:   rate.NewLimiter(limit, burst),
		metrics:   m,
		logger:    logger,
		cfg:       c,
		stopChan:  make(chan struct{}),
	}
}

// RunOnce publishes up to one batch of pending items. It stops at the first
// publish failure so items leave in index order; the failed item is retried
// on the next pass. Published items are marked replicated in one write
// transaction.
func (s *ReplicationService) RunOnce(ctx context.Context) (*ReplicationPass, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	start := time.Now()

	var (
		batch   []chain.Item
		pending int
	)
	err := s.env.WithReader(func(r *kv.Reader) error {
		var err error
		if batch, err = chain.PendingReplication(r, s.cursor, s.cfg.BatchSize); err != nil {
			return err
		}
		pending, err = chain.CountPending(r, s.cursor)
		return err
	})
	if err != nil {
		return nil, err
	}

	pass := &ReplicationPass{}
	for _, it := range batch {
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		if err := s.publisher.Publish(ctx, it); err != nil {
			index := it.Index
			pass.Failed = &index
			s.logger.Warn("Failed to publish chain item",
				zap.Uint32("index", it.Index),
				zap.Error(errors.PublishFailed(it.Index, err)))
			break
		}
		pass.Published = append(pass.Published, it.Index)
	}

	if len(pass.Published) > 0 {
		err := s.env.WithWriter(func(w *kv.Writer) error {
			for _, index := range pass.Published {
				if err := chain.MarkReplicated(w, index); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			// Items stay pending and are published again next pass
			return nil, err
		}
		s.cursor = pass.Published[len(pass.Published)-1] + 1
	}

	pass.Pending = pending - len(pass.Published)
	failed := 0
	if pass.Failed != nil {
		failed = 1
	}
	if s.metrics != nil {
		s.metrics.RecordReplicationPass(len(pass.Published), failed, pass.Pending, time.Since(start).Seconds())
	}

	if len(pass.Published) > 0 || failed > 0 {
		s.logger.Debug("Replication pass completed",
			zap.Int("published", len(pass.Published)),
			zap.Int("failed", failed),
			zap.Int("pending", pass.Pending),
			zap.Uint32("cursor", s.cursor))
	}

	if err := ctx.Err(); err != nil {
		return pass, errors.Cancelled("replication pass", err)
	}
	return pass, nil
}

// Trigger schedules a pass on the worker pool. While a pass is already
// queued the request is absorbed into it.
func (s *ReplicationService) Trigger() {
	queued := s.pool.TrySubmit(workerpool.Task{
		ID:  "replication",
		Key: replicationPassKey,
		Fn: func(ctx context.Context) error {
			pass, err := s.RunOnce(ctx)
			if err != nil {
				return err
			}
			// A full batch leaves work behind; a failed item waits for the next tick
			if pass.Pending > 0 && pass.Failed == nil && len(pass.Published) > 0 {
				s.Trigger()
			}
			return nil
		},
	})
	if !queued {
		s.logger.Debug("Replication pass not queued")
	}
}

// OnCommit implements CommitListener
func (s *ReplicationService) OnCommit(result *CommitResult) {
	if len(result.Items) > 0 {
		s.Trigger()
	}
}

// Start runs a pass immediately and then on every interval until Stop
func (s *ReplicationService) Start() {
	s.logger.Info("Starting replication service",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_size", s.cfg.BatchSize))

	s.Trigger()
	if s.cfg.Interval <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Trigger()
			case <-s.stopChan:
				return
			}
		}
	}()
}

// Stop stops scheduling passes and waits for queued ones to finish
func (s *ReplicationService) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping replication service")
		close(s.stopChan)
		s.wg.Wait()
		err = s.pool.Stop(s.cfg.StopTimeout)
	})
	return err
}

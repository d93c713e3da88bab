package service

import (
	"context"
	"sync"
	"time"

	"github.com/devrev/pairdb/ledger-node/internal/chain"
	"github.com/devrev/pairdb/ledger-node/internal/errors"
	"github.com/devrev/pairdb/ledger-node/internal/kv"
	"github.com/devrev/pairdb/ledger-node/internal/metrics"
	"github.com/devrev/pairdb/ledger-node/internal/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SpaceChecker rejects writes the disk cannot take
type SpaceChecker interface {
	CheckBeforeWrite(estimatedBytes uint64) error
}

// CommitListener is told about every commit that wrote at least one item.
// OnCommit runs on the committing goroutine and must not block.
type CommitListener interface {
	OnCommit(result *CommitResult)
}

// UnitOfWork stages appends on a fresh session. The session's read
// snapshot stays open while it runs. After a head-moved conflict it is
// called again with a new session, so it must not depend on state left
// behind by an earlier call.
type UnitOfWork func(ctx context.Context, seq *chain.Sequence) error

// CommitResult describes a successful commit
type CommitResult struct {
	CommitID string
	// Items holds what was written, in index order. Empty for a commit that
	// staged nothing.
	Items    []chain.Item
	Batch    uint32
	Head     chain.HeaderAddress
	HasHead  bool
	Attempts int
}

// ChainStats summarises the persisted chain
type ChainStats struct {
	Length             uint32              `json:"length"`
	LastBatch          uint32              `json:"last_batch"`
	Head               chain.HeaderAddress `json:"head,omitempty"`
	HasHead            bool                `json:"has_head"`
	PendingReplication int                 `json:"pending_replication"`
}

// SourceChainConfig holds configuration for the source chain service
type SourceChainConfig struct {
	// MaxCommitRetries is the number of extra attempts after a conflict
	MaxCommitRetries     int
	MaxHeaderAddressSize int
}

// SourceChainService sequences header addresses onto the source chain
type SourceChainService struct {
	env        *kv.Env
	disk       SpaceChecker
	validator  *validation.Validator
	metrics    *metrics.Metrics
	logger     *zap.Logger
	maxRetries int

	mu        sync.RWMutex
	listeners []CommitListener
}

// NewSourceChainService creates a new source chain service. disk and m may
// be nil.
func NewSourceChainService(
	cfg *SourceChainConfig,
	env *kv.Env,
	disk SpaceChecker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SourceChainService {
	return &SourceChainService{
		env:        env,
		disk:       disk,
		validator:  validation.NewValidatorWithLimits(cfg.MaxHeaderAddressSize, 0),
		metrics:    m,
		logger:     logger,
		maxRetries: cfg.MaxCommitRetries,
	}
}

// AddListener registers l for commit notifications
func (s *SourceChainService) AddListener(l CommitListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Commit runs fn against a fresh session and writes what it staged. A
// head-moved conflict redoes the whole unit of work, up to the configured
// number of retries; any other error is returned as is.
func (s *SourceChainService) Commit(ctx context.Context, fn UnitOfWork) (*CommitResult, error) {
	commitID := uuid.NewString()
	start := time.Now()
	logger := s.logger.With(zap.String("commit_id", commitID))

	var conflict error
	attempts := 0
	for attempts <= s.maxRetries {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(logger, errors.Cancelled("commit", err), attempts)
		}
		attempts++

		result, err := s.attempt(ctx, fn)
		if err == nil {
			result.CommitID = commitID
			result.Attempts = attempts
			s.succeed(logger, result, time.Since(start))
			return result, nil
		}
		if !errors.IsHeadMoved(err) {
			return nil, s.fail(logger, err, attempts)
		}

		conflict = err
		if s.metrics != nil {
			s.metrics.RecordConflict()
		}
		logger.Debug("Commit conflicted, retrying with a fresh session",
			zap.Int("attempt", attempts),
			zap.Error(err))
	}

	return nil, s.fail(logger, errors.RetriesExhausted(attempts, conflict), attempts)
}

func (s *SourceChainService) attempt(ctx context.Context, fn UnitOfWork) (*CommitResult, error) {
	// fn reads through the session, so the snapshot stays open until it
	// returns. Finalize rebinds to the writer.
	var seq *chain.Sequence
	err := s.env.WithReader(func(r *kv.Reader) error {
		var err error
		if seq, err = chain.Open(r); err != nil {
			return err
		}
		return fn(ctx, seq)
	})
	if err != nil {
		return nil, err
	}

	staged := seq.Staged()
	if len(staged) > 0 && s.disk != nil {
		addrs := make([]chain.HeaderAddress, len(staged))
		for i, it := range staged {
			addrs[i] = it.HeaderAddress
		}
		if err := s.disk.CheckBeforeWrite(validation.EstimateCommitSize(addrs)); err != nil {
			return nil, err
		}
	}

	result := &CommitResult{Items: staged, Batch: seq.Batch()}
	result.Head, result.HasHead = seq.Head()

	finalizeStart := time.Now()
	err = s.env.WithWriter(seq.Finalize)
	if s.metrics != nil {
		s.metrics.RecordFinalize(time.Since(finalizeStart).Seconds())
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SourceChainService) succeed(logger *zap.Logger, result *CommitResult, elapsed time.Duration) {
	if len(result.Items) == 0 {
		logger.Debug("Commit staged nothing", zap.Int("attempts", result.Attempts))
		return
	}

	if s.metrics != nil {
		s.metrics.RecordCommit(result.Attempts, len(result.Items), elapsed.Seconds())
		last := result.Items[len(result.Items)-1]
		s.metrics.UpdateChainStats(int(last.Index)+1, result.Batch)
	}

	logger.Info("Committed source chain batch",
		zap.Uint32("batch", result.Batch),
		zap.Uint32("first_index", result.Items[0].Index),
		zap.Int("items", len(result.Items)),
		zap.String("head", string(result.Head)),
		zap.Int("attempts", result.Attempts),
		zap.Duration("latency", elapsed))

	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()
	for _, l := range listeners {
		l.OnCommit(result)
	}
}

func (s *SourceChainService) fail(logger *zap.Logger, err error, attempts int) error {
	if s.metrics != nil {
		s.metrics.RecordCommitFailure(errors.GetCode(err).String())
	}
	logger.Warn("Commit abandoned",
		zap.Int("attempts", attempts),
		zap.Error(err))
	return err
}

// AppendHeaders commits addrs, in order, as a single batch
func (s *SourceChainService) AppendHeaders(ctx context.Context, addrs ...chain.HeaderAddress) (*CommitResult, error) {
	if err := s.validator.ValidateAppend(addrs); err != nil {
		s.logger.Warn("Append validation failed",
			zap.Int("count", len(addrs)),
			zap.Error(err))
		return nil, err
	}
	return s.Commit(ctx, func(_ context.Context, seq *chain.Sequence) error {
		if uint64(seq.Remaining()) < uint64(len(addrs)) {
			return errors.ChainFull(seq.Remaining(), len(addrs))
		}
		for _, a := range addrs {
			seq.Append(a)
		}
		return nil
	})
}

func (s *SourceChainService) read(ctx context.Context, fn func(r *kv.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Cancelled("read", err)
	}
	return s.env.WithReader(fn)
}

// Head returns the persisted chain head
func (s *SourceChainService) Head(ctx context.Context) (chain.HeaderAddress, bool, error) {
	var (
		head chain.HeaderAddress
		ok   bool
	)
	err := s.read(ctx, func(r *kv.Reader) error {
		var err error
		head, ok, err = chain.ReadHead(r)
		return err
	})
	return head, ok, err
}

// Items returns up to limit items starting at from. A limit <= 0 means no
// limit.
func (s *SourceChainService) Items(ctx context.Context, from uint32, limit int) ([]chain.Item, error) {
	var items []chain.Item
	err := s.read(ctx, func(r *kv.Reader) error {
		var err error
		items, err = chain.Items(r, from, limit)
		return err
	})
	return items, err
}

// Item returns the item at index
func (s *SourceChainService) Item(ctx context.Context, index uint32) (chain.Item, error) {
	var it chain.Item
	err := s.read(ctx, func(r *kv.Reader) error {
		var err error
		it, err = chain.ReadItem(r, index)
		return err
	})
	return it, err
}

// Stats summarises the chain and refreshes the chain gauges
func (s *SourceChainService) Stats(ctx context.Context) (*ChainStats, error) {
	stats := &ChainStats{}
	err := s.read(ctx, func(r *kv.Reader) error {
		seq, err := chain.Open(r)
		if err != nil {
			return err
		}
		stats.Length = seq.NextIndex()
		stats.Head, stats.HasHead = seq.PersistedHead()
		if stats.HasHead {
			stats.LastBatch = seq.Batch() - 1
		}
		stats.PendingReplication, err = chain.CountPending(r, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.UpdateChainStats(int(stats.Length), stats.LastBatch)
	}
	return stats, nil
}

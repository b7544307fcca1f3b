// Package engine hosts the trading core: the per-position operation
// serializer, the position controller, and the operator-facing surface that
// ties them to the market monitor and order gateway.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oddslab/makerbot/internal/domain"
)

// workerIdleTTL retires a position's worker goroutine after a quiet period;
// the next enqueue simply spawns a fresh one.
const workerIdleTTL = 5 * time.Minute

// Op is a unit of position-touching work. Every read-then-write of position
// state runs as an Op so it observes an atomic view.
type Op func(ctx context.Context) error

type queuedOp struct {
	name   string
	op     Op
	result chan error
}

// posQueue is one position's FIFO of pending operations plus its worker's
// wake signal.
type posQueue struct {
	mu   sync.Mutex
	ops  []queuedOp
	wake chan struct{}
	gone bool
}

// Serializer guarantees mutually exclusive, submission-ordered execution of
// operations per position. Operations for distinct positions run
// concurrently; a deleted position's remaining queue is cancelled with
// ErrPositionGone.
type Serializer struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex
	queues map[string]*posQueue
	closed bool
	wg     sync.WaitGroup
}

// NewSerializer creates a Serializer whose operations run under a context
// derived from ctx.
func NewSerializer(ctx context.Context, logger *slog.Logger) *Serializer {
	sctx, cancel := context.WithCancel(ctx)
	return &Serializer{
		ctx:    sctx,
		cancel: cancel,
		logger: logger.With(slog.String("component", "op_serializer")),
		queues: make(map[string]*posQueue),
	}
}

// Enqueue appends op to the position's queue and returns a future that
// resolves with the operation's error once it has run (or been cancelled).
func (s *Serializer) Enqueue(posID, name string, op Op) <-chan error {
	result := make(chan error, 1)

	// Holding s.mu across the append keeps enqueues and idle worker
	// retirement from racing on the same queue.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		result <- domain.ErrShuttingDown
		return result
	}
	q, ok := s.queues[posID]
	if !ok {
		q = &posQueue{wake: make(chan struct{}, 1)}
		s.queues[posID] = q
		s.wg.Add(1)
		go s.work(posID, q)
	}
	q.mu.Lock()
	if q.gone {
		q.mu.Unlock()
		s.mu.Unlock()
		result <- domain.ErrPositionGone
		return result
	}
	q.ops = append(q.ops, queuedOp{name: name, op: op, result: result})
	q.mu.Unlock()
	s.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return result
}

// Remove cancels every queued operation for the position with
// ErrPositionGone and retires its worker. The operation currently in flight,
// if any, runs to completion first.
func (s *Serializer) Remove(posID string) {
	s.mu.Lock()
	q, ok := s.queues[posID]
	s.mu.Unlock()
	if !ok {
		return
	}

	q.mu.Lock()
	q.gone = true
	pending := q.ops
	q.ops = nil
	q.mu.Unlock()

	for _, item := range pending {
		item.result <- domain.ErrPositionGone
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting work, cancels the operation context, fails all
// queued operations with ErrShuttingDown, and waits for in-flight
// operations to finish.
func (s *Serializer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	queues := make([]*posQueue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.Unlock()

	s.cancel()
	for _, q := range queues {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	s.wg.Wait()
}

// work is the per-position worker loop: exactly one operation in flight at
// a time, in submission order.
func (s *Serializer) work(posID string, q *posQueue) {
	defer s.wg.Done()
	for {
		q.mu.Lock()
		var item queuedOp
		var have bool
		if len(q.ops) > 0 {
			item = q.ops[0]
			q.ops = q.ops[1:]
			have = true
		}
		gone := q.gone
		q.mu.Unlock()

		if have {
			select {
			case <-s.ctx.Done():
				item.result <- domain.ErrShuttingDown
				continue
			default:
			}
			err := item.op(s.ctx)
			if err != nil {
				s.logger.Debug("operation failed",
					slog.String("position_id", posID),
					slog.String("op", item.name),
					slog.String("error", err.Error()),
				)
			}
			item.result <- err
			continue
		}

		if gone {
			s.mu.Lock()
			if s.queues[posID] == q {
				delete(s.queues, posID)
			}
			s.mu.Unlock()
			return
		}

		idle := time.NewTimer(workerIdleTTL)
		select {
		case <-s.ctx.Done():
			idle.Stop()
			// Drain anything that raced in, then exit.
			q.mu.Lock()
			pending := q.ops
			q.ops = nil
			q.gone = true
			q.mu.Unlock()
			for _, p := range pending {
				p.result <- domain.ErrShuttingDown
			}
			return
		case <-idle.C:
			s.mu.Lock()
			q.mu.Lock()
			if len(q.ops) == 0 {
				q.gone = true
				if s.queues[posID] == q {
					delete(s.queues, posID)
				}
				q.mu.Unlock()
				s.mu.Unlock()
				return
			}
			q.mu.Unlock()
			s.mu.Unlock()
		case <-q.wake:
			idle.Stop()
		}
	}
}

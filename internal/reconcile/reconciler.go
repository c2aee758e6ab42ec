// Package reconcile keeps a terminal's local order state converged with
// the shared remote store and with peer terminals.
//
// Every order mutation commits locally first and returns immediately;
// remote propagation is asynchronous through a replay queue, so no
// UI-equivalent flow ever blocks on network latency. Convergence is
// last-writer-wins by per-order revision. Wall clocks are never
// compared: they skew across terminals.
//
// Known limitation: concurrent edits of the same order on two terminals
// resolve to whichever revision is higher; line items are not merged.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tay1862/kinsaep-pos-sub005/internal/broadcast"
	"github.com/tay1862/kinsaep-pos-sub005/internal/order"
	"github.com/tay1862/kinsaep-pos-sub005/internal/store"
)

// SyncError wraps a store/broadcast reachability failure. Queued and
// retried with backoff, never fatal to the local operation.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s failed: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// IsSync reports whether err is a sync reachability failure.
func IsSync(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}

// Ack is the result of a Persist call.
type Ack struct {
	// Revision is the revision committed to the local store.
	Revision int64
	// Queued is true when the mutation is awaiting remote propagation
	// through the replay queue.
	Queued bool
}

// Reconciler implements optimistic-local-commit persistence with
// asynchronous remote replay and peer broadcast merging.
type Reconciler struct {
	local      store.Store
	remote     store.Store // nil: standalone terminal, nothing to sync
	bus        broadcast.Bus
	terminalID string
	queue      *replayQueue
	log        *slog.Logger

	mu         sync.Mutex
	lastSynced map[string]int64 // order id → last revision known at the remote

	remoteTimeout time.Duration
	backoffBase   time.Duration
	backoffMax    time.Duration
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRemoteTimeout bounds each remote write attempt during replay.
func WithRemoteTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.remoteTimeout = d }
}

// WithBackoff sets the replay retry backoff window.
func WithBackoff(base, max time.Duration) Option {
	return func(r *Reconciler) { r.backoffBase = base; r.backoffMax = max }
}

// New creates a Reconciler. remote and bus may be nil for a standalone
// terminal.
func New(local store.Store, remote store.Store, bus broadcast.Bus, terminalID string, log *slog.Logger, opts ...Option) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	r := &Reconciler{
		local:         local,
		remote:        remote,
		bus:           bus,
		terminalID:    terminalID,
		queue:         newReplayQueue(),
		log:           log,
		lastSynced:    make(map[string]int64),
		remoteTimeout: 2 * time.Second,
		backoffBase:   100 * time.Millisecond,
		backoffMax:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Persist commits an order mutation.
//
// The local write is the commit boundary: if it fails, the mutation did
// not happen and the error is returned. After the local commit, Persist
// broadcasts to peers, queues the mutation for the replay drain, and
// returns. It never touches the remote store itself, so checkout
// latency is independent of network state; the Run goroutine (or an
// explicit Replay) propagates the queue in order.
func (r *Reconciler) Persist(ctx context.Context, o *order.Order, typ broadcast.Type) (Ack, error) {
	rev, err := r.local.Put(ctx, o)
	if err != nil {
		return Ack{}, fmt.Errorf("local commit order %s: %w", o.ID, err)
	}
	ack := Ack{Revision: rev}

	r.publish(ctx, o, typ)

	if r.remote == nil {
		return ack, nil
	}
	if r.syncedAtLeast(o.ID, o.Revision) {
		return ack, nil
	}

	r.queue.Enqueue(entry{Order: o.Clone(), EnqueuedAt: time.Now().UTC()})
	ack.Queued = true
	return ack, nil
}

// Replay drains the queue in enqueue order, invoked on reconnect.
//
// Replay is idempotent: an entry whose revision is already known at the
// remote is a no-op, so a crash between remote write and bookkeeping
// only costs one harmless re-put (the store treats an equal revision as
// a no-op too). Entries that still cannot reach the remote stop the
// drain with a SyncError, leaving the rest queued in order.
func (r *Reconciler) Replay(ctx context.Context) error {
	for {
		e, ok := r.queue.TryDequeue()
		if !ok {
			return nil
		}
		if r.syncedAtLeast(e.Order.ID, e.Order.Revision) {
			// Already propagated by a later Persist or earlier replay.
			continue
		}
		if err := r.pushRemoteWithBackoff(ctx, e.Order); err != nil {
			r.queue.Requeue(e)
			return &SyncError{Op: "replay", Err: err}
		}
	}
}

// QueueLen reports the number of mutations awaiting replay.
func (r *Reconciler) QueueLen() int {
	return r.queue.Len()
}

// Run drains the replay queue whenever entries arrive, until ctx ends.
// Intended as a background goroutine next to the terminal loop.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		if err := r.queue.Wait(ctx); err != nil {
			return
		}
		if err := r.Replay(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warn("replay interrupted", "queued", r.queue.Len(), "error", err)
		}
	}
}

// OnBroadcast applies a peer terminal's envelope to local state.
//
// Last-writer-wins by revision: the payload is applied only when its
// revision is strictly newer than the local one. Duplicates and
// out-of-order deliveries land on the comparison and are dropped.
func (r *Reconciler) OnBroadcast(env broadcast.Envelope) {
	if env.TerminalID == r.terminalID {
		return
	}
	switch env.Type {
	case broadcast.TypeNewOrder, broadcast.TypeOrderUpdate:
	default:
		return
	}
	var incoming order.Order
	if err := json.Unmarshal(env.Payload, &incoming); err != nil {
		r.log.Error("drop malformed broadcast payload", "order", env.OrderID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.remoteTimeout)
	defer cancel()

	local, err := r.local.Get(ctx, incoming.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// First sight of a peer's order.
	case err != nil:
		r.log.Error("broadcast merge read failed", "order", incoming.ID, "error", err)
		return
	case incoming.Revision <= local.Revision:
		// Stale or duplicate; never compare timestamps.
		return
	}

	if _, err := r.local.Put(ctx, &incoming); err != nil {
		r.log.Error("broadcast merge write failed", "order", incoming.ID, "error", err)
		return
	}
	r.log.Info("merged peer update",
		"order", incoming.Code, "revision", incoming.Revision, "from", env.TerminalID)
}

// Attach subscribes the reconciler to the peer bus. Returns a stop
// function; no-op when the terminal runs without a bus.
func (r *Reconciler) Attach() (func(), error) {
	if r.bus == nil {
		return func() {}, nil
	}
	return r.bus.Subscribe(r.OnBroadcast)
}

// publish sends the mutation to peers, best-effort.
func (r *Reconciler) publish(ctx context.Context, o *order.Order, typ broadcast.Type) {
	if r.bus == nil {
		return
	}
	payload, err := broadcast.Encode(o)
	if err != nil {
		r.log.Error("encode broadcast", "order", o.Code, "error", err)
		return
	}
	env := broadcast.Envelope{
		Type:       typ,
		TerminalID: r.terminalID,
		OrderID:    o.ID,
		Revision:   o.Revision,
		Payload:    payload,
		SentAt:     time.Now().UTC(),
	}
	if err := r.bus.Publish(ctx, env); err != nil {
		// Peers will still converge through the remote store.
		r.log.Warn("broadcast publish failed", "order", o.Code, "error", err)
	}
}

// pushRemote writes one order to the remote store and records the
// synced revision. A revision conflict means the remote already has a
// newer state: adopt it locally (last writer wins) and treat the push
// as done.
func (r *Reconciler) pushRemote(ctx context.Context, o *order.Order) error {
	_, err := r.remote.Put(ctx, o)
	if store.IsConflict(err) {
		r.adoptRemote(ctx, o.ID)
		return nil
	}
	if err != nil {
		return err
	}
	r.markSynced(o.ID, o.Revision)
	return nil
}

// pushRemoteWithBackoff retries pushRemote with doubling sleeps until
// success or ctx cancellation. Each attempt is bounded by the remote
// timeout so one hung connection cannot stall the drain.
func (r *Reconciler) pushRemoteWithBackoff(ctx context.Context, o *order.Order) error {
	delay := r.backoffBase
	for {
		attempt, cancel := context.WithTimeout(ctx, r.remoteTimeout)
		err := r.pushRemote(attempt, o)
		cancel()
		if err == nil {
			return nil
		}
		r.log.Warn("remote retry", "order", o.Code, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > r.backoffMax {
			delay = r.backoffMax
		}
	}
}

// adoptRemote pulls the remote's newer state into the local store.
func (r *Reconciler) adoptRemote(ctx context.Context, orderID string) {
	remote, err := r.remote.Get(ctx, orderID)
	if err != nil {
		r.log.Error("adopt remote state failed", "order", orderID, "error", err)
		return
	}
	if _, err := r.local.Put(ctx, remote); err != nil && !store.IsConflict(err) {
		r.log.Error("adopt remote state failed", "order", orderID, "error", err)
		return
	}
	r.markSynced(orderID, remote.Revision)
}

func (r *Reconciler) markSynced(orderID string, rev int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rev > r.lastSynced[orderID] {
		r.lastSynced[orderID] = rev
	}
}

func (r *Reconciler) syncedAtLeast(orderID string, rev int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSynced[orderID] >= rev
}

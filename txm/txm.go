package txm

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
	"github.com/smartcontractkit/chainlink-common/pkg/utils"

	"github.com/animica/wallet-relayer/sdk"
)

var _ services.Service = &Txm{}

// Txm tracks locally signed transactions from broadcast to a terminal
// outcome, resending with bumped fees when they stall. It is the only
// writer of lifecycle fields; every asynchronous step re-fetches its entry
// by id before writing so a concurrent Remove acts as cancellation.
type Txm struct {
	services.StateMachine
	lggr   logger.Logger
	client sdk.LedgerClient
	cfg    Config

	store  *TxStore
	policy *ResendPolicy

	chStop services.StopChan
	done   sync.WaitGroup
}

// EnqueueRequest describes one signed transaction to track. Resigner is
// optional; without it the entry is never fee-bumped and can only end in
// mined, failed, replaced or dropped.
type EnqueueRequest struct {
	From      common.Address
	Nonce     uint64
	SignedHex string
	To        *common.Address
	Value     *big.Int
	Resigner  Resigner
}

func New(lggr logger.Logger, client sdk.LedgerClient, cfg Config) *Txm {
	cfg.applyDefaults()
	return &Txm{
		lggr:   logger.Named(lggr, "WalletTxm"),
		client: client,
		cfg:    cfg,
		store:  NewTxStore(),
		policy: NewResendPolicy(cfg.ResendSchedule, cfg.MinResendDelay, cfg.MaxResendDelay, nil),
		chStop: make(services.StopChan),
	}
}

func (t *Txm) Name() string {
	return t.lggr.Name()
}

func (t *Txm) HealthReport() map[string]error {
	return map[string]error{t.Name(): t.Healthy()}
}

func (t *Txm) Start(ctx context.Context) error {
	return t.StartOnce("WalletTxm", func() error {
		t.done.Add(1)
		go t.pollLoop()
		if t.cfg.ReapInterval > 0 {
			t.done.Add(1)
			go t.reapLoop()
		}
		return nil
	})
}

func (t *Txm) Close() error {
	return t.StopOnce("WalletTxm", func() error {
		close(t.chStop)
		t.done.Wait()
		return nil
	})
}

// Enqueue inserts a new tracked transaction and kicks off its first
// broadcast on a background task. The entry is returned synchronously;
// broadcast failures surface through its status, not through this call.
func (t *Txm) Enqueue(req EnqueueRequest) (*TrackedTx, error) {
	if req.SignedHex == "" {
		return nil, errors.New("signed payload is required")
	}

	now := time.Now()
	tx := &TrackedTx{
		ID:        uuid.NewString(),
		From:      req.From,
		Nonce:     req.Nonce,
		To:        req.To,
		Value:     req.Value,
		SignedHex: req.SignedHex,
		Status:    Queued,
		CreatedAt: now,
		UpdatedAt: now,
		resigner:  req.Resigner,
	}
	if err := t.store.Insert(tx); err != nil {
		return nil, err
	}
	t.lggr.Debugw("enqueued transaction", "txID", tx.ID, "from", tx.From, "nonce", tx.Nonce)
	t.updateInflightProm()

	// The state machine lock orders this Add against Close's Wait; after
	// stop the entry stays queued for the next start's tick.
	if ok := t.IfNotStopped(func() {
		t.done.Add(1)
		go func() {
			defer t.done.Done()
			ctx, cancel := t.chStop.NewCtx()
			defer cancel()
			t.broadcast(ctx, tx.ID)
		}()
	}); !ok {
		t.lggr.Debugw("skipping immediate broadcast", "txID", tx.ID)
	}

	return tx.clone(), nil
}

// Get returns a copy of a tracked transaction by id.
func (t *Txm) Get(id string) (*TrackedTx, bool) { return t.store.Get(id) }

// Remove deletes an entry unconditionally. An in-flight network call for it
// will find nothing to update on completion.
func (t *Txm) Remove(id string) bool {
	removed := t.store.Remove(id)
	if removed {
		t.lggr.Debugw("removed transaction", "txID", id)
		t.updateInflightProm()
	}
	return removed
}

// AttachResigner replaces the resend callback on an existing entry, used
// after Hydrate since callbacks cannot be serialized.
func (t *Txm) AttachResigner(id string, resigner Resigner) bool {
	return t.store.AttachResigner(id, resigner)
}

// GC removes terminal entries last updated before the cutoff.
func (t *Txm) GC(olderThan time.Time) int {
	reaped := t.store.GC(olderThan)
	if reaped > 0 {
		t.lggr.Debugw("reaped finished transactions", "count", reaped)
		t.updateInflightProm()
	}
	return reaped
}

// Dehydrate exports the queue as an opaque snapshot blob.
func (t *Txm) Dehydrate() ([]byte, error) { return t.store.Dehydrate() }

// Hydrate replaces the queue wholesale from a snapshot. Callers that want
// continued auto-resend must AttachResigner per entry afterwards.
func (t *Txm) Hydrate(blob []byte) error {
	if err := t.store.Hydrate(blob); err != nil {
		return err
	}
	t.updateInflightProm()
	return nil
}

// Read-only derived views.
func (t *Txm) PendingLike() []*TrackedTx { return t.store.PendingLike() }
func (t *Txm) Finished() []*TrackedTx    { return t.store.Finished() }
func (t *Txm) All() []*TrackedTx         { return t.store.All() }
func (t *Txm) FindByHash(hash common.Hash) (*TrackedTx, bool) {
	return t.store.FindByHash(hash)
}
func (t *Txm) InflightCount() int { return t.store.InflightCount() }

func (t *Txm) pollLoop() {
	defer t.done.Done()
	ctx, cancel := t.chStop.NewCtx()
	defer cancel()

	t.lggr.Debugw("pollLoop: started")
	tick := time.After(utils.WithJitter(t.cfg.PollPeriod))
	for {
		select {
		case <-tick:
			start := time.Now()
			t.checkTransactions(ctx)
			remaining := t.cfg.PollPeriod - time.Since(start)
			tick = time.After(utils.WithJitter(remaining.Abs()))
		case <-t.chStop:
			t.lggr.Debugw("pollLoop: stopped")
			return
		}
	}
}

func (t *Txm) reapLoop() {
	defer t.done.Done()

	tick := time.After(t.cfg.ReapInterval)
	for {
		select {
		case <-tick:
			t.GC(time.Now().Add(-t.cfg.RetentionPeriod))
			tick = time.After(t.cfg.ReapInterval)
		case <-t.chStop:
			return
		}
	}
}

// checkTransactions advances every non-terminal entry in the current batch.
// One entry's failure never blocks the others: all errors end up on the
// entry itself, nothing propagates past the tick.
func (t *Txm) checkTransactions(ctx context.Context) {
	batch := t.store.Batch(t.cfg.BatchSize)
	for _, tx := range batch {
		if ctx.Err() != nil {
			return
		}
		switch tx.Status {
		case Queued:
			t.broadcast(ctx, tx.ID)
		case Pending:
			t.poll(ctx, tx)
		case Broadcasting:
			// A broadcast is in flight on another task; leave it alone.
		}
	}
	t.updateInflightProm()
}

// broadcast performs the first send of an entry's signed payload. The
// queued -> broadcasting claim is a compare-and-set so the enqueue task and
// the tick never double-send.
func (t *Txm) broadcast(ctx context.Context, id string) {
	tx, ok := t.store.Get(id)
	if !ok {
		return
	}
	claimed := t.store.mutate(id, func(tx *TrackedTx) bool {
		if tx.Status != Queued {
			return false
		}
		tx.Status = Broadcasting
		tx.UpdatedAt = time.Now()
		return true
	})
	if !claimed {
		return
	}

	hash, err := t.client.SendRawTransaction(ctx, tx.SignedHex)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a ledger verdict. Put the entry back so the next
			// start's tick retries it.
			t.store.mutate(id, func(tx *TrackedTx) bool {
				tx.Status = Queued
				tx.UpdatedAt = time.Now()
				return true
			})
			return
		}
		t.toTerminal(id, Rejected, fmt.Sprintf("broadcast failed: %s", err))
		return
	}

	applied := t.store.mutate(id, func(tx *TrackedTx) bool {
		if !tx.Status.CanTransitionTo(Pending) {
			return false
		}
		tx.Hashes = append(tx.Hashes, hash)
		tx.Status = Pending
		tx.NextResendAt = t.policy.NextResendAt(0, time.Now())
		tx.Error = ""
		tx.UpdatedAt = time.Now()
		return true
	})
	if applied {
		promBroadcastsTotal.Inc()
		t.lggr.Infow("transaction broadcasted", "txID", id, "txHash", hash, "nonce", tx.Nonce)
	}
}

// poll advances one pending entry: receipt first, then nonce supersession,
// then the resend/drop decision. Transient fetch errors are swallowed and
// deferred to the next tick.
func (t *Txm) poll(ctx context.Context, tx *TrackedTx) {
	lastHash, ok := tx.LastHash()
	if !ok {
		// Pending without a hash should be impossible; re-queue defensively
		// is not allowed by the transition table, so just report it.
		t.lggr.Errorw("pending transaction has no hash", "txID", tx.ID)
		return
	}

	receipt, err := t.client.GetTransactionReceipt(ctx, lastHash)
	if err == nil {
		if receipt.Success() {
			t.toTerminal(tx.ID, Mined, "")
		} else {
			t.toTerminal(tx.ID, Failed, "execution failed on chain")
		}
		return
	}
	if !errors.Is(err, sdk.ErrNotFound) {
		t.deferToNextTick(tx.ID, "receipt lookup failed", err)
		return
	}

	// No receipt for the latest hash. A competing transaction at this nonce
	// may still have landed under a different hash, so check the sender's
	// on-chain nonce regardless.
	chainNonce, err := t.client.GetAccountNonce(ctx, tx.From)
	if err != nil {
		t.deferToNextTick(tx.ID, "nonce lookup failed", err)
		return
	}
	if chainNonce > tx.Nonce {
		t.toTerminal(tx.ID, Replaced, "sender nonce advanced without a receipt for this transaction")
		return
	}

	now := time.Now()
	if now.Before(tx.NextResendAt) {
		return
	}

	visible, err := t.isVisible(ctx, lastHash)
	if err != nil {
		t.deferToNextTick(tx.ID, "visibility lookup failed", err)
		return
	}
	stuck := visible && now.Sub(tx.NextResendAt) >= t.cfg.StuckThreshold
	if visible && !stuck {
		// Still in the pool and within the stuck window; give it time.
		return
	}

	if tx.resigner != nil && tx.ResendCount < t.cfg.MaxResends {
		t.resend(ctx, tx, visible)
		return
	}

	if !visible {
		// Soft classification: lost to our knowledge, not proof of failure.
		t.toTerminal(tx.ID, Dropped, fmt.Sprintf("no longer visible to the node after %d resends", tx.ResendCount))
		return
	}

	// Visible but stuck with no way to bump the fee. Re-arm the gate so we
	// do not hammer the pool check every tick.
	t.lggr.Debugw("transaction stuck in pool, no resigner or attempts exhausted", "txID", tx.ID, "txHash", lastHash, "resendCount", tx.ResendCount)
	t.store.mutate(tx.ID, func(live *TrackedTx) bool {
		if live.Terminal() {
			return false
		}
		live.NextResendAt = t.policy.NextResendAt(live.ResendCount, now)
		live.UpdatedAt = now
		return true
	})
}

// resend obtains a higher-fee payload at the same nonce from the resigner
// and broadcasts it. Failures to resign or submit keep the entry pending
// with a re-armed gate; they do not count against the drop logic.
func (t *Txm) resend(ctx context.Context, tx *TrackedTx, visible bool) {
	attempt := tx.ResendCount + 1
	t.lggr.Infow("resending transaction", "txID", tx.ID, "attempt", attempt, "visible", visible, "nonce", tx.Nonce)

	newHex, err := tx.resigner(ctx, attempt)
	if err != nil {
		t.lggr.Errorw("failed to resign transaction", "txID", tx.ID, "attempt", attempt, "err", err)
		t.rearmGate(tx.ID, fmt.Sprintf("resign attempt %d failed: %s", attempt, err))
		return
	}

	hash, err := t.client.SendRawTransaction(ctx, newHex)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.lggr.Errorw("failed to broadcast resend", "txID", tx.ID, "attempt", attempt, "err", err)
		t.rearmGate(tx.ID, fmt.Sprintf("resend attempt %d failed to submit: %s", attempt, err))
		return
	}

	applied := t.store.mutate(tx.ID, func(live *TrackedTx) bool {
		if live.Terminal() {
			return false
		}
		now := time.Now()
		live.Hashes = append(live.Hashes, hash)
		live.SignedHex = newHex
		live.ResendCount++
		live.NextResendAt = t.policy.NextResendAt(live.ResendCount, now)
		live.Error = ""
		live.UpdatedAt = now
		return true
	})
	if applied {
		promResendsTotal.Inc()
		t.lggr.Infow("resend broadcasted", "txID", tx.ID, "txHash", hash, "attempt", attempt)
	}
}

// rearmGate records a soft error and recomputes the resend gate without
// consuming an attempt, so a later tick tries again.
func (t *Txm) rearmGate(id string, msg string) {
	t.store.mutate(id, func(live *TrackedTx) bool {
		if live.Terminal() {
			return false
		}
		now := time.Now()
		live.Error = msg
		live.NextResendAt = t.policy.NextResendAt(live.ResendCount, now)
		live.UpdatedAt = now
		return true
	})
}

// deferToNextTick attaches an advisory error after a transient fetch
// failure; the status is untouched and the next tick retries.
func (t *Txm) deferToNextTick(id, what string, err error) {
	t.lggr.Warnw(what, "txID", id, "err", err)
	t.store.mutate(id, func(live *TrackedTx) bool {
		if live.Terminal() {
			return false
		}
		live.Error = fmt.Sprintf("%s: %s", what, err)
		live.UpdatedAt = time.Now()
		return true
	})
}

// toTerminal moves an entry to a terminal status, if the transition table
// allows it from the entry's current state.
func (t *Txm) toTerminal(id string, status TxStatus, msg string) {
	applied := t.store.mutate(id, func(live *TrackedTx) bool {
		if !live.Status.CanTransitionTo(status) {
			return false
		}
		live.Status = status
		live.Error = msg
		live.UpdatedAt = time.Now()
		return true
	})
	if !applied {
		return
	}
	promTerminalTotal.WithLabelValues(status.String()).Inc()
	t.updateInflightProm()
	switch status {
	case Mined:
		t.lggr.Infow("transaction mined", "txID", id)
	case Replaced:
		t.lggr.Infow("transaction replaced at its nonce", "txID", id)
	case Dropped:
		t.lggr.Infow("transaction presumed dropped", "txID", id, "reason", msg)
	default:
		t.lggr.Errorw("transaction reached failure state", "txID", id, "status", status.String(), "reason", msg)
	}
}

func (t *Txm) isVisible(ctx context.Context, hash common.Hash) (bool, error) {
	_, err := t.client.GetTransactionByHash(ctx, hash)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sdk.ErrNotFound) {
		return false, nil
	}
	return false, err
}

package txm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/tests"

	"github.com/animica/wallet-relayer/mocks"
	"github.com/animica/wallet-relayer/sdk"
	"github.com/animica/wallet-relayer/testutils"
	"github.com/animica/wallet-relayer/txm"
)

var (
	h1 = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	h2 = common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")
)

// fastConfig ticks quickly and opens the resend gate almost immediately so
// scenarios complete in milliseconds. Individual tests override fields.
func fastConfig() txm.Config {
	return txm.Config{
		PollPeriod:     10 * time.Millisecond,
		BatchSize:      30,
		MaxResends:     3,
		ResendSchedule: []time.Duration{30 * time.Millisecond, 10 * time.Second},
		MinResendDelay: time.Millisecond,
		MaxResendDelay: time.Minute,
		StuckThreshold: 20 * time.Millisecond,
	}
}

// slowResendConfig keeps the resend gate far away, for scenarios that must
// not resend.
func slowResendConfig() txm.Config {
	cfg := fastConfig()
	cfg.ResendSchedule = []time.Duration{time.Hour}
	return cfg
}

func setupTxm(t *testing.T, client sdk.LedgerClient, cfg txm.Config) *txm.Txm {
	t.Helper()
	lggr := logger.Test(t)
	manager := txm.New(lggr, client, cfg)
	require.NoError(t, manager.Start(tests.Context(t)))
	t.Cleanup(func() { require.NoError(t, manager.Close()) })
	return manager
}

func enqueue(t *testing.T, manager *txm.Txm, resigner txm.Resigner) *txm.TrackedTx {
	t.Helper()
	tx, err := manager.Enqueue(txm.EnqueueRequest{
		From:      testutils.RandomAddress(),
		Nonce:     7,
		SignedHex: testutils.SignedHex(0x01),
		Resigner:  resigner,
	})
	require.NoError(t, err)
	require.Equal(t, txm.Queued, tx.Status)
	return tx
}

func waitForStatus(t *testing.T, manager *txm.Txm, id string, status txm.TxStatus) *txm.TrackedTx {
	t.Helper()
	var got *txm.TrackedTx
	require.Eventually(t, func() bool {
		tx, ok := manager.Get(id)
		if !ok {
			return false
		}
		got = tx
		return tx.Status == status
	}, 5*time.Second, 2*time.Millisecond, "expected status %s", status)
	return got
}

func TestTxmEnqueueValidation(t *testing.T) {
	t.Parallel()
	client := mocks.NewLedgerClient(t)
	manager := setupTxm(t, client, slowResendConfig())

	_, err := manager.Enqueue(txm.EnqueueRequest{From: testutils.RandomAddress()})
	require.ErrorContains(t, err, "signed payload is required")
}

// Scenario A: broadcast succeeds, no receipt yet, nonce unchanged, gate not
// reached: the entry stays pending with a single hash.
func TestTxmBroadcastThenPending(t *testing.T) {
	t.Parallel()
	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, mock.Anything).Return(h1, nil).Once()
	client.On("GetTransactionReceipt", mock.Anything, h1).Maybe().Return(nil, sdk.ErrNotFound)
	client.On("GetAccountNonce", mock.Anything, mock.Anything).Maybe().Return(uint64(7), nil)

	manager := setupTxm(t, client, slowResendConfig())
	tx := enqueue(t, manager, nil)

	got := waitForStatus(t, manager, tx.ID, txm.Pending)
	assert.Equal(t, []common.Hash{h1}, got.Hashes)
	assert.Equal(t, uint32(0), got.ResendCount)

	// Give the monitor a few more ticks: still pending, still one hash, and
	// no visibility probe before the gate (the mock would reject one).
	time.Sleep(50 * time.Millisecond)
	got, ok := manager.Get(tx.ID)
	require.True(t, ok)
	assert.Equal(t, txm.Pending, got.Status)
	assert.Len(t, got.Hashes, 1)
	assert.Equal(t, 1, manager.InflightCount())
}

// Scenario B: the resend gate elapses, the hash is not visible and a
// resigner is attached: a bumped payload is broadcast at the same nonce.
func TestTxmResendAfterGate(t *testing.T) {
	t.Parallel()
	resigner := testutils.NewTestResigner()

	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, testutils.SignedHex(0x01)).Return(h1, nil).Once()
	client.On("GetTransactionReceipt", mock.Anything, mock.Anything).Maybe().Return(nil, sdk.ErrNotFound)
	client.On("GetAccountNonce", mock.Anything, mock.Anything).Maybe().Return(uint64(7), nil)
	client.On("GetTransactionByHash", mock.Anything, h1).Maybe().Return(nil, sdk.ErrNotFound)
	client.On("SendRawTransaction", mock.Anything, "0xre0001").Return(h2, nil).Once()
	client.On("GetTransactionByHash", mock.Anything, h2).Maybe().Return(&sdk.TransactionView{Hash: h2, Pending: true}, nil)

	manager := setupTxm(t, client, fastConfig())
	tx := enqueue(t, manager, resigner.Fn())

	var got *txm.TrackedTx
	require.Eventually(t, func() bool {
		current, ok := manager.Get(tx.ID)
		if !ok {
			return false
		}
		got = current
		return current.ResendCount == 1
	}, 5*time.Second, 2*time.Millisecond)

	assert.Equal(t, txm.Pending, got.Status)
	assert.Equal(t, []common.Hash{h1, h2}, got.Hashes)
	assert.Equal(t, "0xre0001", got.SignedHex)
	assert.Equal(t, []uint32{1}, resigner.Attempts())

	// The old hash still resolves to the entry.
	byOld, ok := manager.FindByHash(h1)
	require.True(t, ok)
	assert.Equal(t, tx.ID, byOld.ID)
}

// Scenario C: a successful receipt makes the entry mined, terminally: later
// ticks leave it untouched (the mock would reject further receipt calls
// once the Once expectation is consumed).
func TestTxmMined(t *testing.T) {
	t.Parallel()
	blockNumber := uint64(1234)

	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, mock.Anything).Return(h1, nil).Once()
	client.On("GetTransactionReceipt", mock.Anything, h1).Return(&sdk.TransactionReceipt{
		TransactionHash: h1,
		BlockNumber:     &blockNumber,
		Status:          sdk.ReceiptStatusSuccess,
	}, nil).Once()

	manager := setupTxm(t, client, slowResendConfig())
	tx := enqueue(t, manager, nil)

	got := waitForStatus(t, manager, tx.ID, txm.Mined)
	assert.Empty(t, got.Error)

	time.Sleep(50 * time.Millisecond)
	got, ok := manager.Get(tx.ID)
	require.True(t, ok)
	assert.Equal(t, txm.Mined, got.Status)
	assert.Equal(t, 0, manager.InflightCount())
	assert.Len(t, manager.Finished(), 1)
}

// A receipt with a failed execution is terminal too, but distinct from a
// rejected broadcast: the network accepted the transaction.
func TestTxmFailedOnChain(t *testing.T) {
	t.Parallel()
	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, mock.Anything).Return(h1, nil).Once()
	client.On("GetTransactionReceipt", mock.Anything, h1).Return(&sdk.TransactionReceipt{
		TransactionHash: h1,
		Status:          sdk.ReceiptStatusRevert,
	}, nil).Once()

	manager := setupTxm(t, client, slowResendConfig())
	tx := enqueue(t, manager, nil)

	got := waitForStatus(t, manager, tx.ID, txm.Failed)
	assert.Contains(t, got.Error, "execution failed")
}

// Scenario D: the sender's on-chain nonce advanced past the tracked nonce
// with no receipt: something else landed at this nonce.
func TestTxmReplaced(t *testing.T) {
	t.Parallel()
	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, mock.Anything).Return(h1, nil).Once()
	client.On("GetTransactionReceipt", mock.Anything, h1).Maybe().Return(nil, sdk.ErrNotFound)
	client.On("GetAccountNonce", mock.Anything, mock.Anything).Return(uint64(8), nil).Once()

	manager := setupTxm(t, client, slowResendConfig())
	tx := enqueue(t, manager, nil)

	got := waitForStatus(t, manager, tx.ID, txm.Replaced)
	assert.Contains(t, got.Error, "nonce advanced")
}

// Scenario E: attempts exhausted and the hash is gone from the pool: the
// entry is soft-dropped.
func TestTxmDroppedAfterExhaustedResends(t *testing.T) {
	t.Parallel()
	resigner := testutils.NewTestResigner()

	cfg := fastConfig()
	cfg.MaxResends = 1
	cfg.ResendSchedule = []time.Duration{20 * time.Millisecond}

	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, testutils.SignedHex(0x01)).Return(h1, nil).Once()
	client.On("SendRawTransaction", mock.Anything, "0xre0001").Return(h2, nil).Once()
	client.On("GetTransactionReceipt", mock.Anything, mock.Anything).Maybe().Return(nil, sdk.ErrNotFound)
	client.On("GetAccountNonce", mock.Anything, mock.Anything).Maybe().Return(uint64(7), nil)
	client.On("GetTransactionByHash", mock.Anything, mock.Anything).Maybe().Return(nil, sdk.ErrNotFound)

	manager := setupTxm(t, client, cfg)
	tx := enqueue(t, manager, resigner.Fn())

	got := waitForStatus(t, manager, tx.ID, txm.Dropped)
	assert.Equal(t, uint32(1), got.ResendCount)
	assert.Equal(t, []uint32{1}, resigner.Attempts())
	assert.Contains(t, got.Error, "no longer visible")
}

// A transaction that stays visible in the pool but sits past the gate by
// the stuck threshold is resent anyway: visibility alone does not prove the
// fee is high enough.
func TestTxmStuckInPoolTriggersResend(t *testing.T) {
	t.Parallel()
	resigner := testutils.NewTestResigner()

	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, testutils.SignedHex(0x01)).Return(h1, nil).Once()
	client.On("GetTransactionReceipt", mock.Anything, mock.Anything).Maybe().Return(nil, sdk.ErrNotFound)
	client.On("GetAccountNonce", mock.Anything, mock.Anything).Maybe().Return(uint64(7), nil)
	client.On("GetTransactionByHash", mock.Anything, h1).Maybe().Return(&sdk.TransactionView{Hash: h1, Pending: true}, nil)
	client.On("SendRawTransaction", mock.Anything, "0xre0001").Return(h2, nil).Once()
	client.On("GetTransactionByHash", mock.Anything, h2).Maybe().Return(&sdk.TransactionView{Hash: h2, Pending: true}, nil)

	manager := setupTxm(t, client, fastConfig())
	tx := enqueue(t, manager, resigner.Fn())

	var got *txm.TrackedTx
	require.Eventually(t, func() bool {
		current, ok := manager.Get(tx.ID)
		if !ok {
			return false
		}
		got = current
		return current.ResendCount == 1
	}, 5*time.Second, 2*time.Millisecond)

	assert.Equal(t, txm.Pending, got.Status)
	assert.Equal(t, []common.Hash{h1, h2}, got.Hashes)
	assert.Equal(t, []uint32{1}, resigner.Attempts())
}

// Visible and stuck with no resigner: the entry is neither dropped nor
// resent, it stays pending with the gate pushed out.
func TestTxmStuckWithoutResignerStaysPending(t *testing.T) {
	t.Parallel()
	lggr, observed := logger.TestObserved(t, zapcore.DebugLevel)

	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, mock.Anything).Return(h1, nil).Once()
	client.On("GetTransactionReceipt", mock.Anything, h1).Maybe().Return(nil, sdk.ErrNotFound)
	client.On("GetAccountNonce", mock.Anything, mock.Anything).Maybe().Return(uint64(7), nil)
	client.On("GetTransactionByHash", mock.Anything, h1).Maybe().Return(&sdk.TransactionView{Hash: h1, Pending: true}, nil)

	manager := txm.New(lggr, client, fastConfig())
	require.NoError(t, manager.Start(tests.Context(t)))
	t.Cleanup(func() { require.NoError(t, manager.Close()) })

	tx := enqueue(t, manager, nil)

	require.Eventually(t, func() bool {
		return observed.FilterMessageSnippet("stuck in pool").Len() >= 1
	}, 5*time.Second, 2*time.Millisecond)

	got, ok := manager.Get(tx.ID)
	require.True(t, ok)
	assert.Equal(t, txm.Pending, got.Status)
	assert.Equal(t, uint32(0), got.ResendCount)
	assert.Len(t, got.Hashes, 1)
}

// A broadcast failure is immediately terminal: a failed send has a
// well-defined outcome, unlike a failed poll.
func TestTxmRejectedOnBroadcastError(t *testing.T) {
	t.Parallel()
	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, mock.Anything).Return(common.Hash{}, &sdk.RPCError{Code: -32000, Message: "invalid signature"}).Once()

	manager := setupTxm(t, client, slowResendConfig())
	tx := enqueue(t, manager, nil)

	got := waitForStatus(t, manager, tx.ID, txm.Rejected)
	assert.Contains(t, got.Error, "invalid signature")
	assert.Empty(t, got.Hashes)
}

// Transient receipt errors are swallowed: the entry stays pending with an
// advisory error and is retried next tick.
func TestTxmTransientPollErrorIsDeferred(t *testing.T) {
	t.Parallel()
	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, mock.Anything).Return(h1, nil).Once()
	client.On("GetTransactionReceipt", mock.Anything, h1).Return(nil, errors.New("connection refused")).Times(3)
	client.On("GetTransactionReceipt", mock.Anything, h1).Return(&sdk.TransactionReceipt{
		TransactionHash: h1,
		Status:          sdk.ReceiptStatusSuccess,
	}, nil).Once()

	manager := setupTxm(t, client, slowResendConfig())
	tx := enqueue(t, manager, nil)

	got := waitForStatus(t, manager, tx.ID, txm.Mined)
	assert.Empty(t, got.Hashes[1:], "transient errors must not rebroadcast")
}

// A failing resigner abandons the attempt without corrupting state; a later
// tick retries and the attempt count is not consumed.
func TestTxmResignFailureKeepsPending(t *testing.T) {
	t.Parallel()
	resigner := testutils.NewFailingResigner(errors.New("ledger unplugged"))

	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, testutils.SignedHex(0x01)).Return(h1, nil).Once()
	client.On("GetTransactionReceipt", mock.Anything, mock.Anything).Maybe().Return(nil, sdk.ErrNotFound)
	client.On("GetAccountNonce", mock.Anything, mock.Anything).Maybe().Return(uint64(7), nil)
	client.On("GetTransactionByHash", mock.Anything, mock.Anything).Maybe().Return(nil, sdk.ErrNotFound)

	manager := setupTxm(t, client, fastConfig())
	tx := enqueue(t, manager, resigner.Fn())

	require.Eventually(t, func() bool {
		return len(resigner.Attempts()) >= 2
	}, 5*time.Second, 2*time.Millisecond)

	got, ok := manager.Get(tx.ID)
	require.True(t, ok)
	assert.Equal(t, txm.Pending, got.Status)
	assert.Equal(t, uint32(0), got.ResendCount)
	assert.Contains(t, got.Error, "resign attempt 1 failed")
	for _, attempt := range resigner.Attempts() {
		assert.Equal(t, uint32(1), attempt, "failed attempts must not consume the counter")
	}
}

// Scenario F: Remove during an in-flight broadcast. When the broadcast
// resolves, the queue must not resurrect the entry.
func TestTxmRemoveDuringBroadcast(t *testing.T) {
	t.Parallel()
	unblock := make(chan struct{})

	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-unblock
	}).Return(h1, nil).Once()

	manager := setupTxm(t, client, slowResendConfig())
	tx := enqueue(t, manager, nil)

	// The broadcast task is parked inside SendRawTransaction; remove the
	// entry out from under it.
	require.Eventually(t, func() bool {
		current, ok := manager.Get(tx.ID)
		return ok && current.Status == txm.Broadcasting
	}, 5*time.Second, time.Millisecond)
	require.True(t, manager.Remove(tx.ID))
	close(unblock)

	// The resolved broadcast must be a no-op.
	time.Sleep(50 * time.Millisecond)
	_, ok := manager.Get(tx.ID)
	assert.False(t, ok)
	_, ok = manager.FindByHash(h1)
	assert.False(t, ok)
	assert.Equal(t, 0, manager.InflightCount())
}

// Enqueue after Close inserts the entry but must not spawn a broadcast
// task; the entry stays queued for the next start.
func TestTxmEnqueueAfterClose(t *testing.T) {
	t.Parallel()
	client := mocks.NewLedgerClient(t)

	manager := txm.New(logger.Test(t), client, slowResendConfig())
	require.NoError(t, manager.Start(tests.Context(t)))
	require.NoError(t, manager.Close())

	tx, err := manager.Enqueue(txm.EnqueueRequest{
		From:      testutils.RandomAddress(),
		Nonce:     7,
		SignedHex: testutils.SignedHex(0x01),
	})
	require.NoError(t, err)

	// No SendRawTransaction expectation is registered; a spawned broadcast
	// would fail the mock.
	time.Sleep(30 * time.Millisecond)
	got, ok := manager.Get(tx.ID)
	require.True(t, ok)
	assert.Equal(t, txm.Queued, got.Status)
}

// Close during an in-flight broadcast re-queues the entry rather than
// rejecting it, and stamps the regression like any other mutation.
func TestTxmCloseRequeuesInflightBroadcast(t *testing.T) {
	t.Parallel()
	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(common.Hash{}, errors.New("connection reset")).Once()

	manager := txm.New(logger.Test(t), client, slowResendConfig())
	require.NoError(t, manager.Start(tests.Context(t)))

	tx, err := manager.Enqueue(txm.EnqueueRequest{
		From:      testutils.RandomAddress(),
		Nonce:     7,
		SignedHex: testutils.SignedHex(0x01),
	})
	require.NoError(t, err)

	var mid *txm.TrackedTx
	require.Eventually(t, func() bool {
		current, ok := manager.Get(tx.ID)
		if !ok {
			return false
		}
		mid = current
		return current.Status == txm.Broadcasting
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, manager.Close())

	got, ok := manager.Get(tx.ID)
	require.True(t, ok)
	assert.Equal(t, txm.Queued, got.Status)
	assert.Empty(t, got.Hashes)
	assert.True(t, got.UpdatedAt.After(mid.UpdatedAt))
}

// Dehydrate mid-flight, hydrate into a fresh manager, re-attach the
// resigner: tracking continues where it left off.
func TestTxmHydrateContinuesTracking(t *testing.T) {
	t.Parallel()
	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, mock.Anything).Return(h1, nil).Once()
	client.On("GetTransactionReceipt", mock.Anything, h1).Maybe().Return(nil, sdk.ErrNotFound)
	client.On("GetAccountNonce", mock.Anything, mock.Anything).Maybe().Return(uint64(7), nil)

	manager := txm.New(logger.Test(t), client, slowResendConfig())
	require.NoError(t, manager.Start(tests.Context(t)))
	tx := enqueue(t, manager, nil)
	waitForStatus(t, manager, tx.ID, txm.Pending)

	blob, err := manager.Dehydrate()
	require.NoError(t, err)
	require.NoError(t, manager.Close())

	blockNumber := uint64(99)
	client2 := mocks.NewLedgerClient(t)
	client2.On("GetTransactionReceipt", mock.Anything, h1).Return(&sdk.TransactionReceipt{
		TransactionHash: h1,
		BlockNumber:     &blockNumber,
		Status:          sdk.ReceiptStatusSuccess,
	}, nil).Once()

	restored := txm.New(logger.Test(t), client2, slowResendConfig())
	require.NoError(t, restored.Hydrate(blob))
	require.True(t, restored.AttachResigner(tx.ID, testutils.NewTestResigner().Fn()))
	require.NoError(t, restored.Start(tests.Context(t)))
	t.Cleanup(func() { require.NoError(t, restored.Close()) })

	waitForStatus(t, restored, tx.ID, txm.Mined)
}

func TestTxmGC(t *testing.T) {
	t.Parallel()
	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, mock.Anything).Return(h1, nil).Once()
	client.On("GetTransactionReceipt", mock.Anything, h1).Return(&sdk.TransactionReceipt{
		TransactionHash: h1,
		Status:          sdk.ReceiptStatusSuccess,
	}, nil).Once()

	manager := setupTxm(t, client, slowResendConfig())
	tx := enqueue(t, manager, nil)
	waitForStatus(t, manager, tx.ID, txm.Mined)

	// A cutoff in the past keeps the fresh terminal entry.
	assert.Equal(t, 0, manager.GC(time.Now().Add(-time.Minute)))
	// A cutoff right now collects it.
	require.Eventually(t, func() bool {
		return manager.GC(time.Now()) == 1
	}, time.Second, 5*time.Millisecond)
	_, ok := manager.Get(tx.ID)
	assert.False(t, ok)
}

func TestTxmObservedLogs(t *testing.T) {
	t.Parallel()
	lggr, observed := logger.TestObserved(t, zapcore.DebugLevel)

	client := mocks.NewLedgerClient(t)
	client.On("SendRawTransaction", mock.Anything, mock.Anything).Return(h1, nil).Once()
	client.On("GetTransactionReceipt", mock.Anything, h1).Return(&sdk.TransactionReceipt{
		TransactionHash: h1,
		Status:          sdk.ReceiptStatusSuccess,
	}, nil).Once()

	manager := txm.New(lggr, client, slowResendConfig())
	require.NoError(t, manager.Start(tests.Context(t)))
	t.Cleanup(func() { require.NoError(t, manager.Close()) })

	tx := enqueue(t, manager, nil)
	waitForStatus(t, manager, tx.ID, txm.Mined)

	require.Eventually(t, func() bool {
		return observed.FilterMessageSnippet("transaction broadcasted").Len() == 1 &&
			observed.FilterMessageSnippet("transaction mined").Len() == 1
	}, time.Second, 5*time.Millisecond)
}

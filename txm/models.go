package txm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxStatus is the lifecycle state of a tracked transaction. Mined, Failed,
// Dropped, Replaced and Rejected are terminal: once reached, the entry is
// inert until it is removed or garbage collected.
type TxStatus int

const (
	Queued TxStatus = iota
	Broadcasting
	Pending
	Mined
	Failed
	Dropped
	Replaced
	Rejected
)

func (s TxStatus) String() string {
	switch s {
	case Queued:
		return "queued"
	case Broadcasting:
		return "broadcasting"
	case Pending:
		return "pending"
	case Mined:
		return "mined"
	case Failed:
		return "failed"
	case Dropped:
		return "dropped"
	case Replaced:
		return "replaced"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("TxStatus(%d)", s)
	}
}

func (s TxStatus) Terminal() bool {
	switch s {
	case Mined, Failed, Dropped, Replaced, Rejected:
		return true
	}
	return false
}

var statusTransitions = map[TxStatus][]TxStatus{
	Queued:       {Broadcasting, Rejected},
	Broadcasting: {Pending, Rejected},
	Pending:      {Mined, Failed, Dropped, Replaced},
}

func (s TxStatus) CanTransitionTo(t TxStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if t == allowed {
			return true
		}
	}
	return false
}

func (s TxStatus) MarshalText() ([]byte, error) {
	if s < Queued || s > Rejected {
		return nil, fmt.Errorf("unknown tx status: %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *TxStatus) UnmarshalText(text []byte) error {
	for st := Queued; st <= Rejected; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown tx status: %q", string(text))
}

// Resigner produces a replacement signed payload for a resend attempt. It
// must preserve the entry's nonce and is expected to raise the fee so the
// network prioritizes the new submission over the stalled one.
type Resigner func(ctx context.Context, attempt uint32) (string, error)

// TrackedTx is one logical intent to land a transaction at a fixed nonce.
// Identity (ID, From, Nonce) never changes; resends append to Hashes and
// replace SignedHex but keep the nonce, which is what makes them safe.
type TrackedTx struct {
	ID    string
	From  common.Address
	Nonce uint64

	// Display echo, not re-validated here.
	To    *common.Address
	Value *big.Int

	SignedHex    string
	Hashes       []common.Hash
	Status       TxStatus
	ResendCount  uint32
	NextResendAt time.Time
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Runtime capability, never serialized. Re-attach after Hydrate.
	resigner Resigner
}

func (tx *TrackedTx) Terminal() bool {
	return tx.Status.Terminal()
}

func (tx *TrackedTx) LastHash() (common.Hash, bool) {
	if len(tx.Hashes) == 0 {
		return common.Hash{}, false
	}
	return tx.Hashes[len(tx.Hashes)-1], true
}

// clone returns a deep copy so readers never share mutable state with the
// store.
func (tx *TrackedTx) clone() *TrackedTx {
	cp := *tx
	cp.Hashes = append([]common.Hash(nil), tx.Hashes...)
	if tx.Value != nil {
		cp.Value = new(big.Int).Set(tx.Value)
	}
	if tx.To != nil {
		to := *tx.To
		cp.To = &to
	}
	return &cp
}

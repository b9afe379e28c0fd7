package txm

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const snapshotVersion = 1

// txRecord is the persisted form of a TrackedTx. The resigner callback is a
// runtime capability and is deliberately absent; callers re-attach it after
// Hydrate.
type txRecord struct {
	ID           string          `json:"id"`
	From         common.Address  `json:"from"`
	Nonce        uint64          `json:"nonce"`
	To           *common.Address `json:"to,omitempty"`
	Value        *big.Int        `json:"value,omitempty"`
	SignedHex    string          `json:"signedHex"`
	Hashes       []common.Hash   `json:"hashes"`
	Status       TxStatus        `json:"status"`
	ResendCount  uint32          `json:"resendCount"`
	NextResendAt time.Time       `json:"nextResendAt"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type snapshot struct {
	Version      int        `json:"version"`
	Transactions []txRecord `json:"transactions"` // newest first
}

// Dehydrate exports the whole queue as an opaque snapshot blob. Where the
// bytes land is the caller's business.
func (s *TxStore) Dehydrate() ([]byte, error) {
	all := s.All()

	snap := snapshot{Version: snapshotVersion}
	snap.Transactions = make([]txRecord, 0, len(all))
	for _, tx := range all {
		snap.Transactions = append(snap.Transactions, txRecord{
			ID:           tx.ID,
			From:         tx.From,
			Nonce:        tx.Nonce,
			To:           tx.To,
			Value:        tx.Value,
			SignedHex:    tx.SignedHex,
			Hashes:       tx.Hashes,
			Status:       tx.Status,
			ResendCount:  tx.ResendCount,
			NextResendAt: tx.NextResendAt,
			Error:        tx.Error,
			CreatedAt:    tx.CreatedAt,
			UpdatedAt:    tx.UpdatedAt,
		})
	}

	blob, err := json.Marshal(snap)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode queue snapshot")
	}
	return blob, nil
}

// Hydrate replaces the in-memory state wholesale from a snapshot produced by
// Dehydrate. Entries caught mid-broadcast regress to queued so the next tick
// broadcasts them again; resending identical bytes is idempotent on the node
// side. Resigners must be re-attached by the caller.
func (s *TxStore) Hydrate(blob []byte) error {
	var snap snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return errors.Wrap(err, "failed to decode queue snapshot")
	}
	if snap.Version != snapshotVersion {
		return errors.Errorf("unsupported snapshot version: %d", snap.Version)
	}

	txs := make(map[string]*TrackedTx, len(snap.Transactions))
	order := make([]string, 0, len(snap.Transactions))
	for _, rec := range snap.Transactions {
		if rec.ID == "" {
			return errors.New("snapshot record missing id")
		}
		if _, dup := txs[rec.ID]; dup {
			return errors.Errorf("duplicate snapshot record: %s", rec.ID)
		}
		status := rec.Status
		if status == Broadcasting {
			status = Queued
		}
		txs[rec.ID] = &TrackedTx{
			ID:           rec.ID,
			From:         rec.From,
			Nonce:        rec.Nonce,
			To:           rec.To,
			Value:        rec.Value,
			SignedHex:    rec.SignedHex,
			Hashes:       rec.Hashes,
			Status:       status,
			ResendCount:  rec.ResendCount,
			NextResendAt: rec.NextResendAt,
			Error:        rec.Error,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
		}
		order = append(order, rec.ID)
	}

	s.replaceAll(txs, order)
	return nil
}

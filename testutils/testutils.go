// Package testutils holds shared fixtures and doubles for exercising the
// transaction lifecycle manager against a mocked ledger.
package testutils

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

func RandomHash() common.Hash {
	var h common.Hash
	_, _ = rand.Read(h[:])
	return h
}

func RandomAddress() common.Address {
	var a common.Address
	_, _ = rand.Read(a[:])
	return a
}

// SignedHex returns a plausible signed-payload blob for tests.
func SignedHex(seed byte) string {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = seed
	}
	return "0x" + hex.EncodeToString(buf)
}

// TestResigner is a resigner double. It records every attempt number it was
// called with and hands out deterministic payloads, or a fixed error.
type TestResigner struct {
	mu       sync.Mutex
	attempts []uint32
	err      error
}

func NewTestResigner() *TestResigner {
	return &TestResigner{}
}

func NewFailingResigner(err error) *TestResigner {
	return &TestResigner{err: err}
}

// Fn is the callback to hand to the queue. The payload embeds the attempt
// number so tests can correlate broadcasts with attempts.
func (r *TestResigner) Fn() func(ctx context.Context, attempt uint32) (string, error) {
	return func(ctx context.Context, attempt uint32) (string, error) {
		r.mu.Lock()
		r.attempts = append(r.attempts, attempt)
		r.mu.Unlock()
		if r.err != nil {
			return "", r.err
		}
		return fmt.Sprintf("0xre%04x", attempt), nil
	}
}

func (r *TestResigner) Attempts() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32(nil), r.attempts...)
}

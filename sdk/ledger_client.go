package sdk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when the node definitively reports that a
// transaction, receipt or account is unknown (JSON-RPC result null).
// It is distinct from transport errors, which are transient and retriable.
var ErrNotFound = errors.New("not found")

//go:generate mockery --name LedgerClient --output ../mocks/
type LedgerClient interface {
	// SendRawTransaction submits a signed transaction blob (0x-prefixed hex)
	// and returns the transaction hash assigned by the node.
	SendRawTransaction(ctx context.Context, rawTx string) (common.Hash, error)

	// GetTransactionReceipt returns the receipt for a mined transaction.
	// Returns ErrNotFound while the transaction is pending or unknown.
	GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*TransactionReceipt, error)

	// GetTransactionByHash returns the node's view of a transaction, pending
	// or mined. Returns ErrNotFound if the node has never seen the hash or
	// has since dropped it.
	GetTransactionByHash(ctx context.Context, txHash common.Hash) (*TransactionView, error)

	// GetAccountNonce returns the account's current on-chain nonce, i.e. the
	// sequence number the next finalized transaction must carry.
	GetAccountNonce(ctx context.Context, account common.Address) (uint64, error)
}

// ReceiptStatus is the execution outcome recorded in a receipt. The node may
// report it as "SUCCESS"/"REVERT" strings or as 0/1 depending on the
// execution layer; decoding normalizes both forms.
type ReceiptStatus string

const (
	ReceiptStatusSuccess ReceiptStatus = "SUCCESS"
	ReceiptStatusRevert  ReceiptStatus = "REVERT"
)

func (s *ReceiptStatus) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*s = ""
	case string:
		*s = ReceiptStatus(strings.ToUpper(v))
	case float64:
		if v == 1 {
			*s = ReceiptStatusSuccess
		} else {
			*s = ReceiptStatusRevert
		}
	default:
		return fmt.Errorf("unexpected receipt status type %T", raw)
	}
	return nil
}

func (s ReceiptStatus) Success() bool {
	return s == ReceiptStatusSuccess || s == "1"
}

// TransactionReceipt mirrors the node's ReceiptView.
type TransactionReceipt struct {
	TransactionHash  common.Hash   `json:"transactionHash"`
	TransactionIndex *uint64       `json:"transactionIndex"`
	BlockNumber      *uint64       `json:"blockNumber"`
	BlockHash        *common.Hash  `json:"blockHash"`
	Status           ReceiptStatus `json:"status"`
	GasUsed          *uint64       `json:"gasUsed"`
}

func (r *TransactionReceipt) Success() bool {
	return r.Status.Success()
}

// TransactionView mirrors the node's transaction view. Pending reports
// whether the transaction is still in the node's pending pool.
type TransactionView struct {
	Hash        common.Hash `json:"hash"`
	Nonce       uint64      `json:"nonce"`
	Pending     bool        `json:"pending"`
	BlockNumber *uint64     `json:"blockNumber"`
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

type ledgerClient struct {
	rpcURL     string
	httpClient *http.Client
	nextID     atomic.Uint64
}

var _ LedgerClient = &ledgerClient{}

func CreateHTTPClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: false,
			},
		},
	}
}

func NewLedgerClient(rpcURL string, httpClient *http.Client) LedgerClient {
	if httpClient == nil {
		httpClient = CreateHTTPClientWithTimeout(15 * time.Second)
	}
	return &ledgerClient{rpcURL: rpcURL, httpClient: httpClient}
}

// call performs one JSON-RPC request. A null result decodes to ErrNotFound
// so callers can tell "the node says no" apart from "the node is unwell".
func (c *ledgerClient) call(ctx context.Context, method string, params []any, out any) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s request", method)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return errors.Wrapf(err, "failed to create %s request", method)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, "%s request failed", method)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return errors.Errorf("%s: unexpected HTTP status %d", method, httpResp.StatusCode)
	}

	var resp rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return errors.Wrapf(err, "failed to decode %s response", method)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	if len(resp.Result) == 0 || bytes.Equal(resp.Result, []byte("null")) {
		return ErrNotFound
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return errors.Wrapf(err, "failed to decode %s result", method)
	}
	return nil
}

func (c *ledgerClient) SendRawTransaction(ctx context.Context, rawTx string) (common.Hash, error) {
	if !strings.HasPrefix(rawTx, "0x") {
		rawTx = "0x" + rawTx
	}
	var hashHex string
	if err := c.call(ctx, "tx.sendRawTransaction", []any{rawTx}, &hashHex); err != nil {
		return common.Hash{}, err
	}
	return common.HexToHash(hashHex), nil
}

func (c *ledgerClient) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*TransactionReceipt, error) {
	var receipt TransactionReceipt
	if err := c.call(ctx, "tx.getTransactionReceipt", []any{txHash.Hex()}, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *ledgerClient) GetTransactionByHash(ctx context.Context, txHash common.Hash) (*TransactionView, error) {
	var view TransactionView
	if err := c.call(ctx, "tx.getTransactionByHash", []any{txHash.Hex()}, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *ledgerClient) GetAccountNonce(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	if err := c.call(ctx, "state.getNonce", []any{account.Hex()}, &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

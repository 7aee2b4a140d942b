// Package solrpc is the typed Solana JSON-RPC client of the deposit
// pipeline: signature scans, batched transaction fetches, response cleanup
// and outbound budget accounting.
package solrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/weichain/gsol-minter/internal/config"
)

// CommitmentConfirmed is the commitment level used for ingestion. Finalized
// trades latency for reorg safety; confirmed matches the retry discipline of
// the pipeline.
const CommitmentConfirmed = "confirmed"

// Client issues JSON-RPC calls against the first provider of its list.
type Client struct {
	httpClient *http.Client
	providers  []Provider
	rl         *RateLimiter
	nextID     func() uint64

	cyclesConsumed atomic.Uint64
}

// New creates a client. nextID supplies outbound request ids for log
// correlation; nil falls back to a local counter.
func New(httpClient *http.Client, providers []Provider, rl *RateLimiter, nextID func() uint64) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if nextID == nil {
		counter := new(atomic.Uint64)
		nextID = func() uint64 { return counter.Add(1) }
	}
	slog.Info("solana rpc client created",
		"provider", providers[0].Name,
		"url", providers[0].URL,
	)
	return &Client{
		httpClient: httpClient,
		providers:  providers,
		rl:         rl,
		nextID:     nextID,
	}
}

// CyclesConsumed returns the accumulated outbound call budget.
func (c *Client) CyclesConsumed() uint64 {
	return c.cyclesConsumed.Load()
}

// GetSignaturesForAddress lists signatures for the address, newest first.
// before and until are both exclusive; before may be empty to start from the
// tip. limit is capped by the provider at 1000 and by the pipeline at 10.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, limit int, before, until string) ([]SignatureInfo, error) {
	opts := getSignaturesOptions{
		Limit:      limit,
		Commitment: CommitmentConfirmed,
		Before:     before,
		Until:      until,
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID(),
		Method:  "getSignaturesForAddress",
		Params:  []any{address, opts},
	})
	if err != nil {
		return nil, &DecodeError{Msg: fmt.Sprintf("failed to encode request: %v", err)}
	}

	maxResponseBytes := uint64(limit)*config.SignatureResponseSizeEstimate + config.HeaderSizeLimit
	body, err := c.rpcCall(ctx, payload, maxResponseBytes)
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &DecodeError{Msg: fmt.Sprintf("failed to decode response: %v", err)}
	}
	if resp.Error != nil {
		return nil, &JSONRPCError{Code: resp.Error.Code, Msg: resp.Error.Message}
	}

	var signatures []SignatureInfo
	if err := json.Unmarshal(resp.Result, &signatures); err != nil {
		return nil, &DecodeError{Msg: fmt.Sprintf("failed to decode signature list: %v", err)}
	}
	return signatures, nil
}

// GetTransactions fetches a batch of transactions in one JSON-RPC array,
// one element per signature with sequential ids starting at 1. The result
// maps every requested signature to its outcome.
func (c *Client) GetTransactions(ctx context.Context, signatures []string) (map[string]TransactionResult, error) {
	if len(signatures) == 0 {
		return map[string]TransactionResult{}, nil
	}

	// Batched payloads carry positional ids; the shared counter still ticks
	// once per outbound call.
	c.nextID()

	batch := make([]rpcRequest, len(signatures))
	for i, sig := range signatures {
		batch[i] = rpcRequest{
			JSONRPC: "2.0",
			ID:      uint64(i + 1),
			Method:  "getTransaction",
			Params: []any{sig, getTransactionOptions{
				Commitment:                     CommitmentConfirmed,
				MaxSupportedTransactionVersion: 0,
			}},
		}
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, &DecodeError{Msg: fmt.Sprintf("failed to encode batch request: %v", err)}
	}

	maxResponseBytes := uint64(len(signatures))*config.TransactionResponseSizeEstimate + config.HeaderSizeLimit
	body, err := c.rpcCall(ctx, payload, maxResponseBytes)
	if err != nil {
		return nil, err
	}

	var responses []rpcResponse
	if err := json.Unmarshal(body, &responses); err != nil {
		return nil, &DecodeError{Msg: fmt.Sprintf("failed to decode batch response: %v", err)}
	}

	results := make(map[string]TransactionResult, len(signatures))
	for _, resp := range responses {
		if resp.ID < 1 || resp.ID > uint64(len(signatures)) {
			return nil, &DecodeError{Msg: fmt.Sprintf("batch response id %d out of range", resp.ID)}
		}
		sig := signatures[resp.ID-1]

		switch {
		case resp.Error != nil:
			results[sig] = TransactionResult{Err: &JSONRPCError{Code: resp.Error.Code, Msg: resp.Error.Message}}
		case len(resp.Result) == 0 || string(resp.Result) == "null":
			results[sig] = TransactionResult{NotFound: true}
		default:
			var tx TransactionResponse
			if err := json.Unmarshal(resp.Result, &tx); err != nil {
				results[sig] = TransactionResult{Err: &DecodeError{Msg: fmt.Sprintf("failed to decode transaction: %v", err)}}
				continue
			}
			results[sig] = TransactionResult{Transaction: &tx}
		}
	}

	// Entries the provider silently dropped count as not found.
	for _, sig := range signatures {
		if _, ok := results[sig]; !ok {
			results[sig] = TransactionResult{NotFound: true}
		}
	}
	return results, nil
}

// rpcCall POSTs the payload, budgets the call, strips every response header
// before the body is interpreted, and bounds the read at maxResponseBytes.
func (c *Client) rpcCall(ctx context.Context, payload []byte, maxResponseBytes uint64) ([]byte, error) {
	if c.rl != nil {
		if err := c.rl.Wait(ctx); err != nil {
			return nil, &TransportError{Code: 0, Msg: fmt.Sprintf("rate limiter wait: %v", err)}
		}
	}

	provider := c.providers[0]

	cycles := cyclesForCall(maxResponseBytes)
	c.cyclesConsumed.Add(cycles)
	slog.Debug("solana rpc call",
		"provider", provider.Name,
		"payloadBytes", len(payload),
		"maxResponseBytes", maxResponseBytes,
		"cycles", cycles,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Code: 0, Msg: fmt.Sprintf("failed to build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Code: 0, Msg: err.Error()}
	}
	defer resp.Body.Close()

	// Response headers are non-deterministic across providers and replicas;
	// drop them all before anything downstream can observe them.
	cleanupResponse(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxResponseBytes)))
	if err != nil {
		return nil, &TransportError{Code: resp.StatusCode, Msg: fmt.Sprintf("failed to read body: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Code: resp.StatusCode, Msg: string(body)}
	}
	return body, nil
}

// cleanupResponse zeroes all response headers.
func cleanupResponse(resp *http.Response) {
	for k := range resp.Header {
		delete(resp.Header, k)
	}
}

// cyclesForCall prices one outbound call for the configured subnet size:
// (base + per-byte price * 2 * max response size), scaled by subnet ratio.
func cyclesForCall(maxResponseBytes uint64) uint64 {
	base := uint64(config.RPCBaseCycles) + uint64(config.RPCCyclesPerRespByte)*2*maxResponseBytes
	return base * config.RPCSubnetSize / config.RPCBaseSubnetSize
}

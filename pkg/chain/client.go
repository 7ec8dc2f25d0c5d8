package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

const (
	methodExecuteTransactionBlock = "sui_executeTransactionBlock"
	requestTypeWaitForLocal       = "WaitForLocalExecution"
	effectsStatusSuccess          = "success"
)

// ExecutionResult is what the chain reported for a submitted transaction
type ExecutionResult struct {
	Digest  string
	Success bool
	// Error carries the chain's failure reason when Success is false
	Error string
	// Raw is the full JSON-RPC result, stored verbatim on the track
	Raw json.RawMessage
}

// IChainClient submits fully signed transactions for execution
type IChainClient interface {
	// ExecuteTransaction submits base64 transaction bytes with their serialized
	// signatures and waits for local execution. An error means the submission
	// itself failed; a chain-side failure is reported through ExecutionResult.
	ExecuteTransaction(ctx context.Context, txBytes string, signatures []string) (*ExecutionResult, error)

	Close()
}

// RPCClientConfig configures the JSON-RPC chain client
type RPCClientConfig struct {
	URL string
}

// RPCClient talks to a full node over JSON-RPC
type RPCClient struct {
	client *rpc.Client
	url    string
	logger *zap.Logger
}

type executeOptions struct {
	ShowEffects       bool `json:"showEffects"`
	ShowEvents        bool `json:"showEvents"`
	ShowObjectChanges bool `json:"showObjectChanges"`
}

type executeResponse struct {
	Digest  string `json:"digest"`
	Effects *struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		} `json:"status"`
	} `json:"effects"`
}

// NewRPCClient creates a JSON-RPC chain client. HTTP endpoints connect lazily.
func NewRPCClient(ctx context.Context, cfg *RPCClientConfig, logger *zap.Logger) (*RPCClient, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("chain rpc url cannot be empty")
	}

	client, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain rpc at %s: %w", cfg.URL, err)
	}

	return &RPCClient{
		client: client,
		url:    cfg.URL,
		logger: logger,
	}, nil
}

// ExecuteTransaction implements IChainClient
func (c *RPCClient) ExecuteTransaction(ctx context.Context, txBytes string, signatures []string) (*ExecutionResult, error) {
	var raw json.RawMessage
	opts := executeOptions{ShowEffects: true, ShowEvents: true, ShowObjectChanges: true}

	c.logger.Sugar().Debugw("Submitting transaction", "url", c.url, "signatures", len(signatures))

	err := c.client.CallContext(ctx, &raw, methodExecuteTransactionBlock, txBytes, signatures, opts, requestTypeWaitForLocal)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", methodExecuteTransactionBlock, err)
	}

	var resp executeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode execution response: %w", err)
	}

	result := &ExecutionResult{
		Digest: resp.Digest,
		Raw:    raw,
	}
	switch {
	case resp.Effects == nil:
		result.Error = "execution response carried no effects"
	case resp.Effects.Status.Status == effectsStatusSuccess:
		result.Success = true
	default:
		result.Error = fmt.Sprintf("transaction %s failed: %s", resp.Digest, resp.Effects.Status.Error)
	}

	c.logger.Sugar().Infow("Transaction executed",
		"digest", result.Digest,
		"success", result.Success,
		"error", result.Error,
	)
	return result, nil
}

// Close releases the underlying connection
func (c *RPCClient) Close() {
	c.client.Close()
}

package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Layr-Labs/cosigner-go/pkg/chain"
)

// Submission records one ExecuteTransaction call
type Submission struct {
	TxBytes    string
	Signatures []string
}

// MockChainClient implements chain.IChainClient for testing.
// By default every submission succeeds; Fail and FailWith change the outcome
// of later calls.
type MockChainClient struct {
	mu          sync.Mutex
	submissions []Submission
	err         error
	chainError  string
	block       chan struct{}
}

var _ chain.IChainClient = (*MockChainClient)(nil)

// NewMockChainClient creates a mock that accepts every transaction
func NewMockChainClient() *MockChainClient {
	return &MockChainClient{}
}

// Fail makes later submissions fail at the transport level
func (m *MockChainClient) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// FailWith makes later submissions reach the chain but fail in execution
func (m *MockChainClient) FailWith(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chainError = reason
}

// Block makes later submissions wait until the context ends
func (m *MockChainClient) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = make(chan struct{})
}

// ExecuteTransaction implements chain.IChainClient
func (m *MockChainClient) ExecuteTransaction(ctx context.Context, txBytes string, signatures []string) (*chain.ExecutionResult, error) {
	m.mu.Lock()
	m.submissions = append(m.submissions, Submission{TxBytes: txBytes, Signatures: append([]string(nil), signatures...)})
	err, chainError, block := m.err, m.chainError, m.block
	digest := fmt.Sprintf("digest-%d", len(m.submissions))
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	status := map[string]string{"status": "success"}
	if chainError != "" {
		status = map[string]string{"status": "failure", "error": chainError}
	}
	raw, _ := json.Marshal(map[string]interface{}{
		"digest":  digest,
		"effects": map[string]interface{}{"status": status},
	})

	return &chain.ExecutionResult{
		Digest:  digest,
		Success: chainError == "",
		Error:   chainError,
		Raw:     raw,
	}, nil
}

// Submissions returns a copy of every recorded call
func (m *MockChainClient) Submissions() []Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Submission(nil), m.submissions...)
}

// Close implements chain.IChainClient
func (m *MockChainClient) Close() {}

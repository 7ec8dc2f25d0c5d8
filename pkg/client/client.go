package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/types"
)

// APIError is a non-2xx answer from the cosigner
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cosigner returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the cosigner HTTP API on behalf of one account
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client that authenticates with the given bearer token
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// SubmitTransaction creates a signature track for base64 transaction bytes
func (c *Client) SubmitTransaction(ctx context.Context, txBytes string, signers *types.Signers) (*types.TransactionResponse, error) {
	var resp types.TransactionResponse
	err := c.do(ctx, http.MethodPost, "/account/transaction/execute", types.TransactionRequest{TxBytes: txBytes, Signers: signers}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListSigningRequests returns the requests naming this account that pass the filter
func (c *Client) ListSigningRequests(ctx context.Context, filter *types.SignRequestFilter) ([]*types.PendingSignatureRequest, error) {
	q := url.Values{}
	if filter != nil {
		if filter.SigningAs != "" {
			q.Set("signing_as", string(filter.SigningAs))
		}
		if filter.Pending {
			q.Set("pending", strconv.FormatBool(true))
		}
		if filter.Signed {
			q.Set("signed", strconv.FormatBool(true))
		}
		if filter.Denied {
			q.Set("denied", strconv.FormatBool(true))
		}
	}
	path := "/signing-requests"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp types.SignatureRequestsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Requests, nil
}

// Approve answers a request with a signature
func (c *Client) Approve(ctx context.Context, requestID, signature string) (*types.SignatureStatusResponse, error) {
	return c.respond(ctx, requestID, &types.SigningOutcome{Approved: true, Signature: signature})
}

// Deny refuses a request
func (c *Client) Deny(ctx context.Context, requestID, cause string) (*types.SignatureStatusResponse, error) {
	return c.respond(ctx, requestID, &types.SigningOutcome{DenialCause: cause})
}

func (c *Client) respond(ctx context.Context, requestID string, outcome *types.SigningOutcome) (*types.SignatureStatusResponse, error) {
	var resp types.SignatureStatusResponse
	if err := c.do(ctx, http.MethodPost, "/sign", types.SigningResponse{RequestID: requestID, Outcome: outcome}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTransactions returns the tracks this account requested
func (c *Client) ListTransactions(ctx context.Context) ([]*types.SignatureTrack, error) {
	var resp types.TracksResponse
	if err := c.do(ctx, http.MethodGet, "/transaction", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tracks, nil
}

// GetTransaction returns one track
func (c *Client) GetTransaction(ctx context.Context, trackID string) (*types.SignatureTrack, error) {
	var track types.SignatureTrack
	if err := c.do(ctx, http.MethodGet, "/transaction/"+url.PathEscape(trackID), nil, &track); err != nil {
		return nil, err
	}
	return &track, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr types.ErrorResponse
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = string(data)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/auth"
	"github.com/Layr-Labs/cosigner-go/pkg/tracker"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

/*
Server exposes signature tracks over HTTP.

Requestor Flow:
  POST /account/transaction/execute:
    - Request: { tx_bytes, signers: { sender?, sponsor? } }
    - Sender defaults to the caller, sponsor is optional
    - A multisig reference fans out one request per required member
    - Response: { track_id, status, accounts_posted }

  GET /transaction:
    - Tracks requested by the caller, oldest first

  GET /transaction/{id}:
    - One track, visible to its requestor and its signers only

Signer Flow:
  GET /signing-requests?signing_as=&pending=&signed=&denied=:
    - Requests naming the caller, with the bytes to sign

  POST /sign:
    - Request: { request_id, outcome: { approved, signature?, denial_cause? } }
    - The last approval executes the transaction before the response returns
    - Response: { signature_response, rejected?, transaction_passed?, transaction_response? }

Authentication:
  - Every endpoint but /health requires Authorization: Bearer <jwt>
  - The token subject is the caller's account key
  - Each account has its own token bucket; an empty bucket answers 429
*/

// ITracker is the signing core the handlers drive
type ITracker interface {
	Submit(ctx context.Context, requestorKey string, req *types.TransactionRequest) (*types.SignatureTrack, error)
	SubmitSignature(ctx context.Context, callerKey, requestID string, outcome *types.SigningOutcome) (*tracker.SubmitResult, error)
	GetAs(callerKey, trackID string) (*types.SignatureTrack, error)
	ListForRequestor(requestorKey string) ([]*types.SignatureTrack, error)
	ListRequests(signerKey string, filter *types.SignRequestFilter) ([]*types.PendingSignatureRequest, error)
}

// IHealthChecker reports whether the backing store is usable
type IHealthChecker interface {
	HealthCheck() error
}

// Config holds HTTP server settings
type Config struct {
	Port int
	// RequestsPerSecond and Burst size each account's token bucket
	RequestsPerSecond float64
	Burst             int
}

// Server handles HTTP requests for the cosigner
type Server struct {
	tracker    ITracker
	health     IHealthChecker
	tokens     auth.ITokenValidator
	limiter    *accountLimiter
	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg Config, tr ITracker, health IHealthChecker, tokens auth.ITokenValidator, logger *zap.Logger) *Server {
	s := &Server{
		tracker: tr,
		health:  health,
		tokens:  tokens,
		limiter: newAccountLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Requestor endpoints
	mux.Handle("POST /account/transaction/execute", s.authenticated(s.handleExecuteTransaction))
	mux.Handle("GET /transaction", s.authenticated(s.handleListTransactions))
	mux.Handle("GET /transaction/{id}", s.authenticated(s.handleGetTransaction))

	// Signer endpoints
	mux.Handle("GET /signing-requests", s.authenticated(s.handleListSigningRequests))
	mux.Handle("POST /sign", s.authenticated(s.handleSign))

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "port", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests and stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}

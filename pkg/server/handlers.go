package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Layr-Labs/cosigner-go/pkg/types"
)

const maxBodyBytes = 1 << 20

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, types.ErrInvalidRequest),
		errors.Is(err, types.ErrInvalidAccountRole),
		errors.Is(err, types.ErrAccountLocked),
		errors.Is(err, types.ErrInvalidMultisigMember),
		errors.Is(err, types.ErrWeightBelowThreshold),
		errors.Is(err, types.ErrMultisigNotConfirmed),
		errors.Is(err, types.ErrMissingSignature),
		errors.Is(err, types.ErrInvalidSignature):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, types.ErrorResponse{Error: message})
}

// fail answers with the mapped status. Internal errors are logged and not
// echoed to the caller.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Sugar().Errorw("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"caller", caller(r),
			"error", err,
		)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: failed to parse request: %v", types.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health.HealthCheck(); err != nil {
		s.logger.Sugar().Warnw("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExecuteTransaction(w http.ResponseWriter, r *http.Request) {
	var req types.TransactionRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	track, err := s.tracker.Submit(r.Context(), caller(r), &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.TransactionResponse{
		TrackID:        track.ID,
		Status:         track.Status,
		AccountsPosted: track.SignerKeys(),
	})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req types.SigningResponse
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.tracker.SubmitSignature(r.Context(), caller(r), req.RequestID, req.Outcome)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := types.SignatureStatusResponse{
		SignatureResponse: result.Status,
		Rejected:          result.Rejected,
	}
	if result.Track != nil && result.Track.Status.IsResolved() {
		resp.TransactionPassed = result.Track.TransactionPassed
		resp.TransactionResponse = result.Track.TransactionResponse
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSigningRequests(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	requests, err := s.tracker.ListRequests(caller(r), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SignatureRequestsResponse{Requests: requests})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.tracker.ListForRequestor(caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if tracks == nil {
		tracks = []*types.SignatureTrack{}
	}
	writeJSON(w, http.StatusOK, types.TracksResponse{Tracks: tracks})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	track, err := s.tracker.GetAs(caller(r), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

func parseFilter(r *http.Request) (*types.SignRequestFilter, error) {
	q := r.URL.Query()
	filter := &types.SignRequestFilter{}

	if v := q.Get("signing_as"); v != "" {
		role, err := types.ParseSigningRole(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
		}
		filter.SigningAs = role
	}

	flags := []struct {
		name string
		dst  *bool
	}{
		{"pending", &filter.Pending},
		{"signed", &filter.Signed},
		{"denied", &filter.Denied},
	}
	for _, f := range flags {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be a boolean", types.ErrInvalidRequest, f.name)
		}
		*f.dst = b
	}
	return filter, nil
}

package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the root of every "entity absent" error
	ErrNotFound = errors.New("not found")

	ErrAccountNotFound = fmt.Errorf("account %w", ErrNotFound)
	ErrTrackNotFound   = fmt.Errorf("signature track %w", ErrNotFound)
	ErrRequestNotFound = fmt.Errorf("signature request %w", ErrNotFound)

	ErrInvalidAccountRole    = errors.New("invalid account role")
	ErrAccountLocked         = errors.New("account is locked")
	ErrInvalidMultisigMember = errors.New("invalid multisig member")
	ErrWeightBelowThreshold  = errors.New("signer weight below multisig threshold")
	ErrMultisigNotConfirmed  = errors.New("multisig group is not confirmed")
	ErrMemberMismatch        = errors.New("multisig member signature mismatch")

	// ErrUnauthorized is returned when a caller acts on a request that names another signer
	ErrUnauthorized = errors.New("caller is not the named signer")

	ErrRequestResolved   = errors.New("signature request already resolved")
	ErrInvalidTransition = errors.New("invalid signature track transition")
	ErrMissingSignature  = errors.New("approval requires a signature")
	ErrInvalidSignature  = errors.New("signature verification failed")
	ErrImmutableGroup    = errors.New("confirmed multisig group is immutable")
	ErrTrackExists       = errors.New("signature track already exists")

	// ErrInvalidRequest marks a malformed client payload
	ErrInvalidRequest = errors.New("invalid request")
)

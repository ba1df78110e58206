package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")

	// Gated-data protocol.
	ErrProtocol            = errors.New("protocol error")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotImplemented      = errors.New("not implemented")
	ErrPaymentRejected     = errors.New("payment rejected")
	ErrChallengeExpired    = errors.New("challenge expired")
	ErrUnknownChallenge    = errors.New("unknown challenge")
	ErrAmountMismatch      = errors.New("amount mismatch")

	// Authorization.
	ErrMandateInactive  = errors.New("mandate inactive")
	ErrMandateExpired   = errors.New("mandate expired")
	ErrMarketNotAllowed = errors.New("market not allowed by mandate")

	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrExecutionReverted = errors.New("execution reverted")
)

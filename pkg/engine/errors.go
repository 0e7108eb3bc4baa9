package engine

import "errors"

var (
	// ErrSubmissionRejected: the ledger refused the action before accepting
	// it. Either nothing was staged or the staged record was settled Failed
	// immediately.
	ErrSubmissionRejected = errors.New("engine: submission rejected")
	// ErrConfirmationFailed: the ledger accepted the submission but the
	// transaction ultimately failed.
	ErrConfirmationFailed = errors.New("engine: confirmation failed")
	// ErrUnknownPair: the pair has not been started on this engine.
	ErrUnknownPair = errors.New("engine: unknown trading pair")
)

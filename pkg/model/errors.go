package model

import "github.com/m-mizutani/goerr/v2"

// Engine error taxonomy. Components wrap these with goerr.Wrap so callers can
// branch on them with errors.Is.
var (
	// ErrModelLoadFailed is fatal: no inference engine instance is usable.
	ErrModelLoadFailed = goerr.New("model load failed")
	// ErrTokenizationFailed is returned for malformed vocabularies at load time and
	// for token sequences that cannot be decoded.
	ErrTokenizationFailed = goerr.New("tokenization failed")
	// ErrInferenceFailed is a per-call backend fault.
	ErrInferenceFailed = goerr.New("inference failed")
	// ErrContextWindowExceeded means input plus requested output does not fit the
	// model's context budget. It is never retried inside the engine.
	ErrContextWindowExceeded = goerr.New("context window exceeded")
	// ErrRetrievalFailed is a knowledge store fault during a turn.
	ErrRetrievalFailed = goerr.New("retrieval failed")
	// ErrBlueprintParseFailed means the model output is not a valid curriculum.
	ErrBlueprintParseFailed = goerr.New("blueprint parse failed")
	// ErrBlueprintRejected means a valid curriculum was denied by policy.
	ErrBlueprintRejected = goerr.New("blueprint rejected by policy")

	ErrInvalidConfig     = goerr.New("invalid config")
	ErrDimensionMismatch = goerr.New("embedding dimension mismatch")
	ErrDocumentNotFound  = goerr.New("document not found")
	ErrSessionNotFound   = goerr.New("session not found")
)

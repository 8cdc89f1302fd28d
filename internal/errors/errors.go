package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a cardvault error code.
type ErrorCode string

const (
	ErrContainerFormat     ErrorCode = "CONTAINER_FORMAT"     // 422
	ErrPayloadMissing      ErrorCode = "PAYLOAD_MISSING"      // 422
	ErrCardParse           ErrorCode = "CARD_PARSE"           // 422
	ErrTranscriptRetrieval ErrorCode = "TRANSCRIPT_RETRIEVAL" // 502
	ErrRuleCompile         ErrorCode = "RULE_COMPILE"         // never surfaced to callers
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"      // 400
	ErrNotFound            ErrorCode = "NOT_FOUND"            // 404
	ErrConflict            ErrorCode = "CONFLICT"             // 409
	ErrInternal            ErrorCode = "INTERNAL"             // 500
)

// Stage names the pipeline stage that produced an error.
type Stage string

const (
	StageContainer Stage = "container"
	StageNormalize Stage = "normalize"
	StageRetrieve  Stage = "retrieve"
	StageRewrite   Stage = "rewrite"
)

// VaultError represents a structured error with code, status, stage, and details.
type VaultError struct {
	Code    ErrorCode
	Status  int
	Message string
	Stage   Stage
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *VaultError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *VaultError) Unwrap() error { return e.Err }

// NewContainerFormat creates a 422 error for a buffer that is not a PNG container.
func NewContainerFormat(msg string) *VaultError {
	return &VaultError{
		Code:    ErrContainerFormat,
		Status:  422,
		Stage:   StageContainer,
		Message: msg,
	}
}

// NewPayloadMissing creates a 422 error when no card chunk was found in the container.
func NewPayloadMissing() *VaultError {
	return &VaultError{
		Code:    ErrPayloadMissing,
		Status:  422,
		Stage:   StageContainer,
		Message: "no character data chunk (ccv3 or chara) found in image",
	}
}

// NewCardParse creates a 422 error for a payload that is not a card object.
func NewCardParse(msg string, cause error) *VaultError {
	return &VaultError{
		Code:    ErrCardParse,
		Status:  422,
		Stage:   StageNormalize,
		Message: msg,
		Err:     cause,
	}
}

// NewTranscriptRetrieval creates a 502 error for a failed transcript fetch.
// The request is safe to retry unchanged.
func NewTranscriptRetrieval(key string, cause error) *VaultError {
	msg := fmt.Sprintf("failed to retrieve transcript %q", key)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &VaultError{
		Code:    ErrTranscriptRetrieval,
		Status:  502,
		Stage:   StageRetrieve,
		Message: msg,
		Details: map[string]any{"key": key, "retryable": true},
		Err:     cause,
	}
}

// NewRuleCompile records a rule that could not be compiled. It is logged and
// reported alongside results, never returned as a failure.
func NewRuleCompile(ruleID, pattern string, cause error) *VaultError {
	return &VaultError{
		Code:    ErrRuleCompile,
		Status:  0,
		Stage:   StageRewrite,
		Message: fmt.Sprintf("rule %q skipped: %v", ruleID, cause),
		Details: map[string]any{"rule_id": ruleID, "pattern": pattern},
		Err:     cause,
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *VaultError {
	return &VaultError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing card or session.
func NewNotFound(kind, identifier string) *VaultError {
	return &VaultError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *VaultError {
	return &VaultError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *VaultError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &VaultError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// Is checks if err, or anything it wraps, is a VaultError with the given code.
func Is(err error, code ErrorCode) bool {
	var vErr *VaultError
	if stderrors.As(err, &vErr) {
		return vErr.Code == code
	}
	return false
}

// StageOf returns the stage recorded on err, or "" if none.
func StageOf(err error) Stage {
	var vErr *VaultError
	if stderrors.As(err, &vErr) {
		return vErr.Stage
	}
	return ""
}

// As is a shorthand for extracting a *VaultError from an error chain.
func As(err error) (*VaultError, bool) {
	var vErr *VaultError
	ok := stderrors.As(err, &vErr)
	return vErr, ok
}

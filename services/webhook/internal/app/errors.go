package app

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidJSON      = errors.New("invalid JSON body")
	ErrMissingFields    = errors.New("missing required fields")
	ErrInvalidID        = errors.New("invalid ID format")
	ErrInvalidMessage   = errors.New("invalid message content")
	ErrInvalidFilename  = errors.New("invalid filename")
	// ErrRateLimited means the caller exhausted its window for the endpoint.
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrSignedURL   = errors.New("failed to create signed URL")
	// ErrEmptyWorkflowReply means the chat workflow answered 2xx without text.
	ErrEmptyWorkflowReply = errors.New("chat workflow returned no response")
)

package app

import "errors"

var (
	ErrInvalidMessage = errors.New("message must be between 1 and 4000 characters")
	ErrInvalidName    = errors.New("name is required")
	// ErrSubjectNotFound also covers subjects owned by another user.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrChapterNotFound also covers chapters owned by another user.
	ErrChapterNotFound     = errors.New("chapter not found")
	ErrFileNotFound        = errors.New("file not found")
	ErrFileRequired        = errors.New("file is required")
	ErrFileTooLarge        = errors.New("file too large")
	ErrExtensionNotAllowed = errors.New("file type not allowed")
	ErrInvalidDocument     = errors.New("file is not a readable PDF")
)

package logship

import "errors"

var (
	// ErrProjectRequired is returned when the project name is empty at construction.
	ErrProjectRequired = errors.New("logship project is required")
	// ErrTableRequired is returned when the table name is empty at construction.
	ErrTableRequired = errors.New("logship table is required")
	// ErrQueueRequired is returned when a nil Queue is provided.
	ErrQueueRequired = errors.New("logship queue is required")
	// ErrSenderRequired is returned when a nil Sender is provided.
	ErrSenderRequired = errors.New("logship sender is required")
	// ErrInvalidLevel is returned when parsing an unknown level name.
	ErrInvalidLevel = errors.New("logship invalid level")
	// ErrClosed is returned when flushing through a closed Shipper.
	ErrClosed = errors.New("logship shipper is closed")
)

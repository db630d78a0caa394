package sqlite

import "errors"

var (
	// ErrPathRequired is returned when the database path is empty.
	ErrPathRequired = errors.New("logship sqlite: path is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("logship sqlite: table name is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("logship sqlite: invalid table name")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("logship sqlite: store is closed")
)

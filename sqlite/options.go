package sqlite

import "fmt"

const defaultTable = "log_queue"

// Config defines SQLite store behavior.
type Config struct {
	// Table is the queue table name. Defaults to "log_queue".
	Table string
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}

	return c
}

// Option configures the SQLite store.
type Option func(*Config)

// WithTable sets the queue table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	for i, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		if r >= '0' && r <= '9' {
			if i == 0 {
				return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
			}

			continue
		}

		return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
	}

	return name, nil
}

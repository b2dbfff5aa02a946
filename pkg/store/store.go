package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/jazware/engagement-report/pkg/config"
)

// Store wraps the ClickHouse connection
type Store struct {
	DB   driver.Conn
	addr string
}

// ConnectionError means the store could not be reached or rejected the credentials.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("clickhouse connection to %s failed: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError means the server rejected a query: bad syntax or missing schema objects.
type QueryError struct {
	Query string
	Code  int32
	Err   error
}

func (e *QueryError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("query %s failed (code %d): %v", e.Query, e.Code, e.Err)
	}
	return fmt.Sprintf("query %s failed: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// New opens a ClickHouse connection for the configured database and pings it.
// NOTE: the event tables of a dev instance are created with `reporter migrate up`
func New(ctx context.Context, cfg config.ClickHouse) (*Store, error) {
	conn, err := clickhouse.Open(Options(cfg))
	if err != nil {
		return nil, &ConnectionError{Address: cfg.Address, Err: err}
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{Address: cfg.Address, Err: err}
	}

	return &Store{DB: conn, addr: cfg.Address}, nil
}

// Options builds the driver options shared by the store and the migrator.
func Options(cfg config.ClickHouse) *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr: []string{cfg.Address},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
	}
	return opts
}

// Close closes the ClickHouse connection
func (s *Store) Close() error {
	return s.DB.Close()
}

// classify maps driver failures onto the store error taxonomy. Server
// exceptions are query defects, anything else means the connection is gone.
func classify(query, address string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ex *clickhouse.Exception
	if errors.As(err, &ex) {
		if isAuthCode(ex.Code) {
			return &ConnectionError{Address: address, Err: err}
		}
		return &QueryError{Query: query, Code: ex.Code, Err: err}
	}
	return &ConnectionError{Address: address, Err: err}
}

// ClickHouse error codes for rejected credentials.
func isAuthCode(code int32) bool {
	switch code {
	case 192, 193, 194, 516:
		return true
	}
	return false
}

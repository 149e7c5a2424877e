// Package valkey provides a Valkey/Redis-compatible implementation of the
// kvstore contract for distributed deployments. Expiry is delegated to the
// server through an atomic SET with TTL, so no separate expiry pass is
// needed; network errors propagate to the caller.
package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/authrelay/oauth-client/kvstore"
)

// connectionVerifyTimeout is the timeout for initial connection verification
const connectionVerifyTimeout = 5 * time.Second

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of kvstore.Store.
type Store struct {
	client valkeygo.Client
	logger *slog.Logger
}

// Compile-time interface check
var _ kvstore.Store = (*Store)(nil)

// New creates a new Valkey-backed store.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connectivity before handing the store out
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", cfg.Address, err)
	}

	logger.Debug("Connected to valkey", "address", cfg.Address, "db", cfg.DB)

	return &Store{
		client: client,
		logger: logger,
	}, nil
}

// Get returns the value stored under key. A missing or expired key is a
// miss, not an error.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get key: %w", err)
	}
	return value, true, nil
}

// Set stores value under key using an atomic SET with server-side expiry.
// A ttl <= 0 is a successful no-op.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(value).Ex(ttl).Build()).Error(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Close releases the underlying client connection.
func (s *Store) Close() {
	s.client.Close()
}

package downloader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinoosan/ptguard/internal/fp"
)

// TestConnection reports whether the client answers a ping.
func TestConnection(ctx context.Context, c Client) bool {
	return c.Ping(ctx) == nil
}

// ResolveOptions bound the confirmation poll in ResolveHash.
type ResolveOptions struct {
	Attempts int
	Interval time.Duration
}

// ResolveHash returns the info-hash of an added payload. A hash reported by
// the client wins. Otherwise the hash is derived from the payload and the
// client is polled until it lists the torrent.
func ResolveHash(ctx context.Context, c Client, payload []byte, reported string, opts ResolveOptions) (string, error) {
	if reported != "" {
		return strings.ToLower(reported), nil
	}
	hash, err := fp.InfoHash(payload)
	if err != nil {
		return "", fmt.Errorf("derive info hash: %w", err)
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 5
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	for i := 0; i < opts.Attempts; i++ {
		_, err := c.Status(ctx, hash)
		if err == nil {
			return hash, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(opts.Interval):
		}
	}
	return "", fmt.Errorf("torrent %s not visible after add: %w", hash, ErrNotFound)
}

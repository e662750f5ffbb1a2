package vectorsync

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Config describes how to reach the external vector-store subprocess.
type Config struct {
	Command string
	Args    []string
	Logger  *slog.Logger
}

// Client is the lazy-singleton connection to the vector-store subprocess.
// It is respawned with exponential backoff on transport error; the first
// operation after a crash transparently reconnects and retries once.
type Client struct {
	cfg Config

	mu        sync.Mutex
	t         *transport
	backoff   time.Duration
	maxBackoff time.Duration
}

const (
	initialBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// New constructs a Client; the subprocess is not started until first use.
func New(cfg Config) *Client {
	return &Client{cfg: cfg, backoff: initialBackoff, maxBackoff: defaultMaxBackoff}
}

func (c *Client) ensureConnected(ctx context.Context) (*transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.t != nil && c.t.connected.Load() {
		return c.t, nil
	}

	t := newTransport(c.cfg.Command, c.cfg.Args, c.cfg.Logger)
	if err := t.connect(ctx); err != nil {
		return nil, err
	}
	c.t = t
	c.backoff = initialBackoff
	return t, nil
}

// invoke calls method once; on transport failure it reconnects (with
// exponential backoff bounded at maxBackoff) and retries exactly once.
func (c *Client) invoke(ctx context.Context, method string, params any) ([]byte, error) {
	t, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	result, err := t.call(ctx, method, params, 30*time.Second)
	if err == nil {
		return result, nil
	}

	c.mu.Lock()
	wait := c.backoff
	c.backoff *= 2
	if c.backoff > c.maxBackoff {
		c.backoff = c.maxBackoff
	}
	c.t = nil
	c.mu.Unlock()

	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t, err = c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	return t.call(ctx, method, params, 30*time.Second)
}

// Close stops the subprocess if running.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t == nil {
		return nil
	}
	err := c.t.close()
	c.t = nil
	return err
}

var collectionSanitizer = regexp.MustCompile(`[^a-z0-9_-]+`)

// CollectionName sanitizes project to the vector store's allowed character
// set and prefixes it, giving one logical collection per project.
func CollectionName(project string) string {
	lower := strings.ToLower(project)
	sanitized := collectionSanitizer.ReplaceAllString(lower, "_")
	sanitized = strings.Trim(sanitized, "_-")
	if sanitized == "" {
		sanitized = "default"
	}
	return "mem_" + sanitized
}

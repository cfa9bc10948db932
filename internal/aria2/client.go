package aria2

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const defaultRPCURL = "http://127.0.0.1:6800/jsonrpc"

// Config locates an aria2 JSON-RPC endpoint.
type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

type Client struct {
	baseURL *url.URL
	secret  string
	http    *http.Client
}

// NewClient validates cfg and builds a Client. An empty URL selects the
// local default endpoint.
func NewClient(cfg Config) (*Client, error) {
	raw := cfg.URL
	if raw == "" {
		raw = defaultRPCURL
	}
	baseURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("aria2 rpc url: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("aria2 rpc url: unsupported scheme %q", baseURL.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		secret:  cfg.Secret,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) BaseURL() *url.URL  { return c.baseURL }
func (c *Client) Secret() string     { return c.secret }
func (c *Client) HTTP() *http.Client { return c.http }

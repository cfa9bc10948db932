package aria2dl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinoosan/ptguard/internal/metrics"
)

const kind = "aria2"

// --- JSON-RPC wire types ---

type rpcReq struct {
	Jsonrpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	ID      string        `json:"id"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResp struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (a *Adapter) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	timer := prometheus.NewTimer(metrics.DownloaderRPCLatency.WithLabelValues(kind, method))
	defer timer.ObserveDuration()
	body, _ := json.Marshal(rpcReq{Jsonrpc: "2.0", Method: method, ID: "ptguard", Params: params})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cl.BaseURL().String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.cl.HTTP().Do(req)
	if err != nil {
		metrics.DownloaderRPCErrors.WithLabelValues(kind, method).Inc()
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	// aria2 answers RPC errors with 400 and a JSON error body
	b, _ := io.ReadAll(resp.Body)
	var rr rpcResp
	if err := json.Unmarshal(b, &rr); err != nil {
		metrics.DownloaderRPCErrors.WithLabelValues(kind, method).Inc()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("aria2 http %d: %s", resp.StatusCode, string(b))
		}
		return nil, fmt.Errorf("aria2 rpc decode: %w (%s)", err, string(b))
	}
	if rr.Error != nil {
		metrics.DownloaderRPCErrors.WithLabelValues(kind, method).Inc()
		return nil, fmt.Errorf("aria2 rpc error %d: %s", rr.Error.Code, rr.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.DownloaderRPCErrors.WithLabelValues(kind, method).Inc()
		return nil, fmt.Errorf("aria2 http %d: %s", resp.StatusCode, string(b))
	}
	return rr.Result, nil
}

// params prepends the "token:<secret>" parameter aria2 expects when a
// secret is configured.
func (a *Adapter) params(rest ...interface{}) []interface{} {
	out := make([]interface{}, 0, len(rest)+1)
	if s := a.cl.Secret(); s != "" {
		out = append(out, "token:"+s)
	}
	return append(out, rest...)
}

// isGIDNotFound detects when aria2 reports a missing GID.
func isGIDNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found")
}

// Package registry provides chain registry communication with multi-fullnode failover.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

// Miner registration status values reported by the registry
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusJailed   = "jailed"
)

// ErrNoUpstream indicates no registry fullnode is reachable
var ErrNoUpstream = errors.New("no registry upstream available")

// MinerInfo describes a registered miner
type MinerInfo struct {
	UID      string  `json:"uid"`
	Endpoint string  `json:"endpoint"`
	Weight   float64 `json:"weight"`
	Status   string  `json:"status"`
}

// EpochInfo describes the registry's current epoch
type EpochInfo struct {
	Epoch     uint64 `json:"epoch"`
	Slot      uint64 `json:"slot"`
	Timestamp uint64 `json:"timestamp"`
}

// Client handles communication with a registry fullnode
type Client struct {
	url       string
	timeout   time.Duration
	client    *http.Client
	requestID uint64
}

// NewClient creates a new registry RPC client
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:     url,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// URL returns the fullnode URL this client talks to
func (c *Client) URL() string {
	return c.url
}

// rpcRequest represents a JSON-RPC request with object params
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      uint64      `json:"id"`
}

// rpcResponse represents a JSON-RPC response
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC request and decodes the result into out
func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      atomic.AddUint64(&c.requestID, 1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("registry call %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry call %s: HTTP %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// GetActiveMiners fetches the miner set registered on a subnet.
// The result includes every registration status; callers filter.
func (c *Client) GetActiveMiners(ctx context.Context, subnetID uint64) ([]MinerInfo, error) {
	params := map[string]interface{}{
		"subnet_id": subnetID,
	}

	var miners []MinerInfo
	if err := c.call(ctx, "get_active_miners", params, &miners); err != nil {
		return nil, err
	}

	util.Debugf("Registry returned %d miners for subnet %d", len(miners), subnetID)
	return miners, nil
}

// PublishScores submits the final score vector for a slot
func (c *Client) PublishScores(ctx context.Context, slotID uint64, scores map[string]float64) error {
	params := map[string]interface{}{
		"slot_id": slotID,
		"scores":  scores,
	}

	var accepted bool
	if err := c.call(ctx, "publish_scores", params, &accepted); err != nil {
		return err
	}
	if !accepted {
		return fmt.Errorf("registry rejected score vector for slot %d", slotID)
	}

	util.Infof("Published %d scores for slot %d", len(scores), slotID)
	return nil
}

// GetEpochInfo fetches the registry's current epoch, used for health checks
// and slot tracking
func (c *Client) GetEpochInfo(ctx context.Context) (*EpochInfo, error) {
	var info EpochInfo
	if err := c.call(ctx, "get_epoch_info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

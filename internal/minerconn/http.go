package minerconn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBytes caps how much of a miner reply is read
const maxResponseBytes = 1 << 20

// HTTPTransport sends tasks as JSON POSTs to the miner's endpoint
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates an HTTP miner transport. The per-call deadline
// comes from the dispatch context, not the client.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Send posts the task to the miner and decodes its reply
func (t *HTTPTransport) Send(ctx context.Context, endpoint string, req *TaskRequest) (*TaskResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal task %s: %w", req.TaskID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build task request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("miner replied HTTP %d", resp.StatusCode)
	}

	return decodeResponse(data, req)
}

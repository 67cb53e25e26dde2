// Package minerconn implements the outbound wire protocol to miners.
package minerconn

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrMalformed indicates a miner reply that could not be interpreted:
// undecodable body, missing task id, or a task id that does not match
// the request.
var ErrMalformed = errors.New("malformed miner response")

// TaskRequest is the payload sent to a miner
type TaskRequest struct {
	TaskID  string          `json:"task_id"`
	SlotID  uint64          `json:"slot_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TaskResponse is a miner's reply. Raw bodies are not retained beyond the
// call; Digest is the blake3 reference hash of the result body.
type TaskResponse struct {
	TaskID          string  `json:"task_id"`
	ResultURL       string  `json:"result_url,omitempty"`
	ModelVersion    string  `json:"model_version,omitempty"`
	ReportedLatency float64 `json:"latency_ms,omitempty"`

	// Computed by the transport, never sent on the wire
	Digest string `json:"-"`
}

// Transport sends one task to one miner endpoint and waits for its reply.
// Implementations must honor ctx cancellation and deadlines.
type Transport interface {
	Send(ctx context.Context, endpoint string, req *TaskRequest) (*TaskResponse, error)
}

// wireResponse is the on-the-wire reply shape before validation
type wireResponse struct {
	TaskID          string  `json:"task_id"`
	ResultURL       string  `json:"result_url,omitempty"`
	ModelVersion    string  `json:"model_version,omitempty"`
	ReportedLatency float64 `json:"latency_ms,omitempty"`
}

// decodeResponse validates a raw reply body against the originating request
func decodeResponse(body []byte, req *TaskRequest) (*TaskResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	if wire.TaskID == "" || wire.TaskID != req.TaskID {
		return nil, ErrMalformed
	}

	return &TaskResponse{
		TaskID:          wire.TaskID,
		ResultURL:       wire.ResultURL,
		ModelVersion:    wire.ModelVersion,
		ReportedLatency: wire.ReportedLatency,
		Digest:          Digest(body),
	}, nil
}

// deadlineFrom extracts the remaining budget from ctx, defaulting when unset
func deadlineFrom(ctx context.Context, fallback time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return fallback
}

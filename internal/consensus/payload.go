package consensus

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Payload is a task or result body. Subnets that define a structured
// format use Structured; everything else travels as Raw bytes.
type Payload struct {
	Raw        []byte
	Structured *StructuredPayload
}

// StructuredPayload is the decoded form of a subnet-defined body
type StructuredPayload struct {
	ResultURL    string            `json:"result_url,omitempty"`
	ModelVersion string            `json:"model_version,omitempty"`
	Extra        map[string][]byte `json:"extra,omitempty"`
}

// Encode renders the payload for the wire. Raw bytes that already form
// valid JSON pass through untouched; anything else is wrapped base64.
func (p Payload) Encode() (json.RawMessage, error) {
	if p.Structured != nil {
		return json.Marshal(p.Structured)
	}
	if len(p.Raw) == 0 {
		return nil, nil
	}
	if json.Valid(p.Raw) {
		return json.RawMessage(p.Raw), nil
	}
	return json.Marshal(map[string]string{
		"raw": base64.StdEncoding.EncodeToString(p.Raw),
	})
}

// Decoder interprets a subnet's body format
type Decoder interface {
	Decode(body []byte) (Payload, error)
}

// RawDecoder passes bodies through undecoded
type RawDecoder struct{}

func (RawDecoder) Decode(body []byte) (Payload, error) {
	return Payload{Raw: body}, nil
}

// StructuredDecoder expects the standard structured body
type StructuredDecoder struct{}

func (StructuredDecoder) Decode(body []byte) (Payload, error) {
	var sp StructuredPayload
	if err := json.Unmarshal(body, &sp); err != nil {
		return Payload{}, fmt.Errorf("decode structured payload: %w", err)
	}
	return Payload{Structured: &sp}, nil
}

// TaskSource produces the subnet-specific body for each task
type TaskSource interface {
	Payload(minerUID string, round uint64) (Payload, error)
}

// StaticTaskSource hands every miner the same body; useful for subnets
// whose task is a fixed prompt or challenge per phase
type StaticTaskSource struct {
	Body []byte
}

func (s StaticTaskSource) Payload(string, uint64) (Payload, error) {
	return Payload{Raw: s.Body}, nil
}

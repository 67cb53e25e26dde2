package consensus

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestPayloadEncodeStructured(t *testing.T) {
	p := Payload{Structured: &StructuredPayload{
		ResultURL:    "https://r",
		ModelVersion: "v1",
	}}

	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var back StructuredPayload
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Encoded payload not valid JSON: %v", err)
	}
	if back.ResultURL != "https://r" || back.ModelVersion != "v1" {
		t.Errorf("Round-tripped payload = %+v", back)
	}
}

func TestPayloadEncodeRawJSON(t *testing.T) {
	body := []byte(`{"prompt":"describe the image"}`)
	p := Payload{Raw: body}

	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.Equal(raw, body) {
		t.Errorf("Valid JSON raw payload should pass through, got %s", raw)
	}
}

func TestPayloadEncodeRawBinary(t *testing.T) {
	p := Payload{Raw: []byte{0x00, 0x01, 0xff}}

	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var wrapped map[string]string
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		t.Fatalf("Binary payload should wrap into JSON: %v", err)
	}
	if wrapped["raw"] == "" {
		t.Error("Wrapped payload missing raw field")
	}
}

func TestPayloadEncodeEmpty(t *testing.T) {
	p := Payload{}

	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if raw != nil {
		t.Errorf("Empty payload encoded to %s, want nil", raw)
	}
}

func TestDecoders(t *testing.T) {
	body := []byte(`{"result_url":"https://r","model_version":"v2"}`)

	raw, err := RawDecoder{}.Decode(body)
	if err != nil {
		t.Fatalf("RawDecoder error = %v", err)
	}
	if !bytes.Equal(raw.Raw, body) {
		t.Error("RawDecoder should pass bytes through")
	}

	structured, err := StructuredDecoder{}.Decode(body)
	if err != nil {
		t.Fatalf("StructuredDecoder error = %v", err)
	}
	if structured.Structured == nil || structured.Structured.ModelVersion != "v2" {
		t.Errorf("StructuredDecoder = %+v", structured.Structured)
	}

	if _, err := (StructuredDecoder{}).Decode([]byte("not json")); err == nil {
		t.Error("StructuredDecoder should fail on invalid JSON")
	}
}

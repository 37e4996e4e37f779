package payment

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateSignature(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"event":"purchase.completed"}`)
	sig := GenerateSignature("secret", 1736600000, payload)

	if len(sig) != 64 {
		t.Errorf("signature length = %d, want 64", len(sig))
	}
	if sig != GenerateSignature("secret", 1736600000, payload) {
		t.Error("signature is not deterministic")
	}
	if sig == GenerateSignature("secret", 1736600001, payload) {
		t.Error("different timestamp should produce different signature")
	}
	if sig == GenerateSignature("secretx", 1736600000, payload) {
		t.Error("different secret should produce different signature")
	}
}

func TestValidateSignature(t *testing.T) {
	t.Parallel()

	now := time.Unix(1736600000, 0)
	payload := []byte(`{"a":1}`)
	valid := GenerateSignature("s", now.Unix(), payload)

	tests := []struct {
		name      string
		signature string
		timestamp int64
		payload   []byte
		wantErr   error
	}{
		{"valid", valid, now.Unix(), payload, nil},
		{"clock skew inside window", GenerateSignature("s", now.Unix()-240, payload), now.Unix() - 240, payload, nil},
		{"too old", GenerateSignature("s", now.Unix()-301, payload), now.Unix() - 301, payload, ErrReplayWindowExceeded},
		{"from the future", GenerateSignature("s", now.Unix()+301, payload), now.Unix() + 301, payload, ErrReplayWindowExceeded},
		{"tampered payload", valid, now.Unix(), []byte(`{"a":2}`), ErrInvalidSignature},
		{"garbage signature", "deadbeef", now.Unix(), payload, ErrInvalidSignature},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateSignature("s", tt.signature, tt.timestamp, tt.payload, DefaultReplayWindow, now)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSignature() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

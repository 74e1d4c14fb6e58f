package signature

import (
	"strings"
	"testing"
)

func TestSignVerify(t *testing.T) {
	payload := []byte(`{"trackingId":"ext-1","amount":"25"}`)
	sig := Sign(payload, "s3cret")

	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("expected sha256= prefix, got %q", sig)
	}
	if len(sig) != len("sha256=")+64 {
		t.Errorf("unexpected signature length %d", len(sig))
	}

	tests := []struct {
		name    string
		payload []byte
		secret  string
		header  string
		want    bool
	}{
		{"valid", payload, "s3cret", sig, true},
		{"valid with whitespace", payload, "s3cret", " " + sig + " ", true},
		{"wrong secret", payload, "other", sig, false},
		{"tampered payload", []byte(`{"trackingId":"ext-1","amount":"2500"}`), "s3cret", sig, false},
		{"missing prefix", payload, "s3cret", strings.TrimPrefix(sig, "sha256="), false},
		{"not hex", payload, "s3cret", "sha256=zz", false},
		{"empty header", payload, "s3cret", "", false},
		{"empty secret", payload, "", Sign(payload, ""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(tt.payload, tt.secret, tt.header); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHashDeterministic(t *testing.T) {
	if Hash([]byte("a"), "k") != Hash([]byte("a"), "k") {
		t.Error("hash should be deterministic")
	}
	if Hash([]byte("a"), "k") == Hash([]byte("b"), "k") {
		t.Error("different payloads should hash differently")
	}
}

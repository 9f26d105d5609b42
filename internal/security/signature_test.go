package security

import (
	"strings"
	"testing"
)

func TestComputeSignatureKnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	got := ComputeSignature([]byte("what do ya want for nothing?"), "Jefe")
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != want {
		t.Fatalf("signature = %s, want %s", got, want)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"chat_id":"x"}`)
	sig := ComputeSignature(body, "s3cret")

	cases := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		want      bool
	}{
		{"valid", body, sig, "s3cret", true},
		{"uppercase hex", body, strings.ToUpper(sig), "s3cret", true},
		{"wrong secret", body, sig, "other", false},
		{"tampered body", []byte(`{"chat_id":"y"}`), sig, "s3cret", false},
		{"empty signature", body, "", "s3cret", false},
		{"non hex", body, "zz" + sig[2:], "s3cret", false},
		{"truncated", body, sig[:10], "s3cret", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VerifySignature(tc.payload, tc.signature, tc.secret); got != tc.want {
				t.Fatalf("VerifySignature = %v, want %v", got, tc.want)
			}
		})
	}
}

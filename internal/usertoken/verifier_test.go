package usertoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	jwt "github.com/golang-jwt/jwt/v5"
)

const testKID = "kid-1"

func newTestVerifier(t *testing.T, cfg Config) (*Verifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwks, _ := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	})
	k, err := keyfunc.NewJWKSetJSON(jwks)
	if err != nil {
		t.Fatalf("keyfunc: %v", err)
	}
	return NewVerifierWithKeyfunc(k, cfg), key
}

func sign(t *testing.T, key *rsa.PrivateKey, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKID
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestNewVerifierRequiresJWKSURL(t *testing.T) {
	if _, err := NewVerifier(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing jwks url to fail")
	}
}

func TestVerifySubject(t *testing.T) {
	v, key := newTestVerifier(t, Config{Audience: "authenticated"})
	token := sign(t, key, jwt.RegisteredClaims{
		Subject:   "6f1c2f7e-0a55-4a8e-9a3c-1a2b3c4d5e6f",
		Audience:  jwt.ClaimStrings{"authenticated"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	sub, err := v.VerifySubject(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "6f1c2f7e-0a55-4a8e-9a3c-1a2b3c4d5e6f" {
		t.Fatalf("unexpected subject %q", sub)
	}
}

func TestVerifySubjectRejects(t *testing.T) {
	v, key := newTestVerifier(t, Config{Issuer: "https://idp.test", Audience: "authenticated", Leeway: time.Second})
	other, _ := rsa.GenerateKey(rand.Reader, 2048)
	valid := jwt.RegisteredClaims{
		Subject:   "user-a",
		Issuer:    "https://idp.test",
		Audience:  jwt.ClaimStrings{"authenticated"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongAud := valid
	wrongAud.Audience = jwt.ClaimStrings{"service_role"}
	wrongIss := valid
	wrongIss.Issuer = "https://evil.test"
	noExp := valid
	noExp.ExpiresAt = nil

	cases := map[string]string{
		"expired":        sign(t, key, expired),
		"wrong audience": sign(t, key, wrongAud),
		"wrong issuer":   sign(t, key, wrongIss),
		"missing exp":    sign(t, key, noExp),
		"foreign key":    sign(t, other, valid),
		"garbage":        "not.a.jwt",
	}
	for name, token := range cases {
		if _, err := v.VerifySubject(token); err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}

	noSub := valid
	noSub.Subject = " "
	if _, err := v.VerifySubject(sign(t, key, noSub)); !errors.Is(err, ErrSubjectMissing) {
		t.Fatalf("expected ErrSubjectMissing, got %v", err)
	}
}

func TestVerifySubjectRejectsHS256(t *testing.T) {
	v, _ := newTestVerifier(t, Config{})
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-a",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	tok.Header["kid"] = testKID
	signed, _ := tok.SignedString([]byte("shared"))
	if _, err := v.VerifySubject(signed); err == nil {
		t.Fatalf("expected HS256 token to be rejected")
	}
}

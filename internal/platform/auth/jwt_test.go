package auth

import (
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	ts, err := NewHS256Service("test-secret", "tinylink", time.Hour)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	token, err := ts.Sign("alice", "admin")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := ts.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.OwnerID != "alice" {
		t.Fatalf("owner = %q, want alice", claims.OwnerID)
	}
	if claims.Role != "admin" {
		t.Fatalf("role = %q, want admin", claims.Role)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	ts1, _ := NewHS256Service("secret-one", "tinylink", time.Hour)
	ts2, _ := NewHS256Service("secret-two", "tinylink", time.Hour)

	token, err := ts1.Sign("alice", "user")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ts2.Verify(token); err == nil {
		t.Fatal("token signed with another secret was accepted")
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	ts1, _ := NewHS256Service("secret", "other-issuer", time.Hour)
	ts2, _ := NewHS256Service("secret", "tinylink", time.Hour)

	token, err := ts1.Sign("alice", "user")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ts2.Verify(token); err == nil {
		t.Fatal("token with wrong issuer was accepted")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	// 构造器拒绝非正 TTL，直接用内部实现造一个已过期的 token
	ts := &hs256Service{secret: []byte("secret"), issuer: "tinylink", ttl: -time.Minute}
	token, err := ts.Sign("alice", "user")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ts.Verify(token); err == nil {
		t.Fatal("expired token was accepted")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	ts, _ := NewHS256Service("secret", "tinylink", time.Hour)
	if _, err := ts.Verify("not.a.token"); err == nil {
		t.Fatal("garbage token was accepted")
	}
}

func TestSignRequiresOwner(t *testing.T) {
	ts, _ := NewHS256Service("secret", "tinylink", time.Hour)
	if _, err := ts.Sign("", "user"); err == nil {
		t.Fatal("empty owner id was accepted")
	}
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewHS256Service("", "tinylink", time.Hour); err == nil {
		t.Fatal("empty secret accepted")
	}
	if _, err := NewHS256Service("secret", "", time.Hour); err == nil {
		t.Fatal("empty issuer accepted")
	}
	if _, err := NewHS256Service("secret", "tinylink", 0); err == nil {
		t.Fatal("zero ttl accepted")
	}
}

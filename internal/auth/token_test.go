package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)
	token, expires, err := tm.GenerateToken("telegram", ScopeEvents)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !expires.After(time.Now()) {
		t.Fatalf("expiry in the past: %v", expires)
	}

	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Transport != "telegram" || !claims.HasScope(ScopeEvents) {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.HasScope("admin") {
		t.Fatal("unexpected scope")
	}
}

func TestTokenRejectsForeignSecretAndExpiry(t *testing.T) {
	issuer := NewTokenManager("other", time.Hour)
	token, _, err := issuer.GenerateToken("telegram", ScopeEvents)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewTokenManager("secret", time.Hour).ParseToken(token); err == nil {
		t.Fatal("token signed with another secret must be rejected")
	}

	expired := NewTokenManager("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err = expired.GenerateToken("telegram")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := expired.ParseToken(token); err == nil {
		t.Fatal("expired token must be rejected")
	}
}

func TestHashAdminKey(t *testing.T) {
	hash, err := HashAdminKey("letmein")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "letmein" || len(hash) == 0 {
		t.Fatalf("unexpected hash %q", hash)
	}
}

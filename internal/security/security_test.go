package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("secret", 42, "alice", false, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" || claims.Admin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if _, err := ParseAdminToken("secret", token); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
}

func TestParseTokenRejectsWrongSecretAndExpiry(t *testing.T) {
	token, err := GenerateToken("secret", 1, "bob", true, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ParseToken("other", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	expired, err := GenerateToken("secret", 1, "bob", true, -time.Minute)
	if err != nil {
		t.Fatalf("generate expired: %v", err)
	}
	if _, err := ParseToken("secret", expired); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}

	admin, err := ParseAdminToken("secret", token)
	if err != nil {
		t.Fatalf("parse admin: %v", err)
	}
	if !admin.Admin {
		t.Fatalf("expected admin claims")
	}
}

func TestPasswordHashing(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "correct horse") {
		t.Fatalf("expected password match")
	}
	if CheckPassword(hash, "wrong horse") {
		t.Fatalf("expected password mismatch")
	}
}

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(key, APIKeyPrefix) || len(key) != len(APIKeyPrefix)+64 {
		t.Fatalf("unexpected key format %q", key)
	}
	if !LooksLikeAPIKey(key) {
		t.Fatalf("expected key to be recognised")
	}
	other, _ := GenerateAPIKey()
	if other == key {
		t.Fatalf("expected unique keys")
	}
}

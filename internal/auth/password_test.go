package auth

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasherRoundTrip(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)

	hash, err := hasher.Hash("correct horse")
	if err != nil {
		t.Fatalf("unexpected hash error: %v", err)
	}
	if hash == "correct horse" {
		t.Fatalf("expected hash to differ from password")
	}
	if err := hasher.Compare(hash, "correct horse"); err != nil {
		t.Fatalf("expected matching password, got %v", err)
	}
	if err := hasher.Compare(hash, "battery staple"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}

func TestNewPasswordHasherClampsCost(t *testing.T) {
	if hasher := NewPasswordHasher(0); hasher.cost != bcrypt.DefaultCost {
		t.Fatalf("expected default cost, got %d", hasher.cost)
	}
	if hasher := NewPasswordHasher(bcrypt.MaxCost + 1); hasher.cost != bcrypt.DefaultCost {
		t.Fatalf("expected default cost for out-of-range value, got %d", hasher.cost)
	}
}

package validator

import (
	"strings"
	"testing"
)

func TestValidateEmail(t *testing.T) {
	for _, email := range []string{"user@example.com", "a.b+c@sub.example.io"} {
		if err := ValidateEmail(email); err != nil {
			t.Fatalf("expected %q to be valid, got %v", email, err)
		}
	}
	for _, email := range []string{"", "user", "user@", "@example.com", "user@example", "user @example.com"} {
		if err := ValidateEmail(email); err != ErrInvalidEmail {
			t.Fatalf("expected %q to be rejected, got %v", email, err)
		}
	}
}

func TestValidateUsername(t *testing.T) {
	for _, username := range []string{"bob", "user_42", strings.Repeat("a", 30)} {
		if err := ValidateUsername(username); err != nil {
			t.Fatalf("expected %q to be valid, got %v", username, err)
		}
	}
	for _, username := range []string{"", "ab", strings.Repeat("a", 31), "bad name", "bad-name", "słowo"} {
		if err := ValidateUsername(username); err != ErrInvalidUsername {
			t.Fatalf("expected %q to be rejected, got %v", username, err)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("longenough"); err != nil {
		t.Fatalf("expected valid password, got %v", err)
	}
	if err := ValidatePassword("short"); err != ErrInvalidPassword {
		t.Fatalf("expected short password to be rejected, got %v", err)
	}
	// bcrypt silently ignores everything past 72 bytes; refuse it up front.
	if err := ValidatePassword(strings.Repeat("x", 73)); err != ErrInvalidPassword {
		t.Fatalf("expected over-long password to be rejected, got %v", err)
	}
}

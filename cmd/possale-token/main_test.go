package main

import (
	"testing"
	"time"
)

func TestRunRejectsUnknownRole(t *testing.T) {
	if err := run("", "till-1", "owner", time.Hour); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
}

func TestRunRequiresSecret(t *testing.T) {
	t.Setenv("POSSALE_AUTH_SECRET", "")
	if err := run("", "till-1", "cashier", time.Hour); err == nil {
		t.Fatalf("expected missing secret to be rejected")
	}
}

func TestRunMintsToken(t *testing.T) {
	t.Setenv("POSSALE_AUTH_SECRET", "0123456789abcdef0123456789abcdef")
	if err := run("", "till-1", "cashier", time.Hour); err != nil {
		t.Fatalf("expected token to be minted, got %v", err)
	}
}

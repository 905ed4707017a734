package main

import (
	"testing"

	"retailpos/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "short"}); err == nil {
		t.Fatalf("expected short AUTH_SECRET to be rejected")
	}
	err := validateSecurityConfig(config.Config{
		AuthSecret:    "0123456789abcdef0123456789abcdef",
		AdminEmail:    "admin@example.com",
		AdminPassword: "weak",
	})
	if err == nil {
		t.Fatalf("expected weak ADMIN_PASSWORD to be rejected when ADMIN_EMAIL is set")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:    "0123456789abcdef0123456789abcdef",
		AdminEmail:    "admin@example.com",
		AdminPassword: "long-enough-password",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

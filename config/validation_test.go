package config

import (
	"strings"
	"testing"
)

func TestValidatorChaining(t *testing.T) {
	v := NewValidator().
		RequireNonEmpty("name", "").
		RequirePositive("count", 0).
		ValidateRange("port", 70000, 1, 65535)

	if !v.HasErrors() {
		t.Fatal("expected errors")
	}
	if len(v.Errors()) != 3 {
		t.Fatalf("expected 3 errors, got %d", len(v.Errors()))
	}
	err := v.Error()
	if err == nil {
		t.Fatal("expected combined error")
	}
	if !strings.Contains(err.Error(), "name") || !strings.Contains(err.Error(), "port") {
		t.Errorf("combined error missing fields: %v", err)
	}
}

func TestValidatorClean(t *testing.T) {
	v := NewValidator().
		RequireNonEmpty("name", "grounded").
		RequirePositive("count", 5).
		RequireNonNegative("offset", 0).
		ValidateFloatRange("threshold", 0.6, 0, 1).
		ValidateOneOf("sslMode", "require", "disable", "require")

	if v.HasErrors() {
		t.Fatalf("unexpected errors: %v", v.Errors())
	}
	if v.Error() != nil {
		t.Errorf("expected nil error, got %v", v.Error())
	}
}

func TestValidateRedisConfig(t *testing.T) {
	if err := ValidateRedisConfig("localhost:6379", 0, "grounded"); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	if err := ValidateRedisConfig("", 16, ""); err == nil {
		t.Error("expected error for empty addr and out-of-range db")
	}
}

func TestValidatePostgresConfig(t *testing.T) {
	if err := ValidatePostgresConfig("localhost", 5432, "app", "grounded", "disable"); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	err := ValidatePostgresConfig("localhost", 5432, "app", "grounded", "maybe")
	if err == nil || !strings.Contains(err.Error(), "sslMode") {
		t.Errorf("expected sslMode error, got %v", err)
	}
}

package chat

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateBodyAccepts(t *testing.T) {
	got, err := ValidateBody("hello there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello there" {
		t.Errorf("expected body unchanged, got %q", got)
	}
}

func TestValidateBodyTrims(t *testing.T) {
	got, err := ValidateBody("  hi \n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hi" {
		t.Errorf("expected trimmed body %q, got %q", "hi", got)
	}
}

func TestValidateBodyRejectsEmpty(t *testing.T) {
	for _, body := range []string{"", "   ", "\t\n  \r\n"} {
		_, err := ValidateBody(body)
		if err == nil {
			t.Fatalf("expected error for %q, got nil", body)
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("expected ValidationError for %q, got %T", body, err)
		}
	}
}

func TestValidateBodyRejectsOversized(t *testing.T) {
	_, err := ValidateBody(strings.Repeat("x", MaxBodyBytes+1))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for oversized body, got %v", err)
	}
}

func TestValidateBodyRejectsTooManyRunes(t *testing.T) {
	// Multi-byte runes: stays under the byte limit but over the rune limit.
	_, err := ValidateBody(strings.Repeat("é", MaxBodyRunes+1))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for rune count, got %v", err)
	}
}

func TestValidateBodyRejectsInvalidUTF8(t *testing.T) {
	_, err := ValidateBody("ok\xff\xfe")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for invalid UTF-8, got %v", err)
	}
}

func TestValidateBodyAtLimits(t *testing.T) {
	if _, err := ValidateBody(strings.Repeat("a", MaxBodyRunes)); err != nil {
		t.Errorf("body at rune limit should pass: %v", err)
	}
}

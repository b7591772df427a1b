package cache

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid key", "txflow:wallet:fiat", false},
		{"valid with numbers", "txflow:data:plans:12", false},
		{"valid with underscores", "card_funding", false},
		{"empty key", "", true},
		{"too long", strings.Repeat("a", 300), true},
		{"control char null", "key\x00value", true},
		{"control char tab", "key\tvalue", true},
		{"leading space", " key", true},
		{"trailing space", "key ", true},
		{"exactly 250 chars", strings.Repeat("a", 250), false},
		{"251 chars", strings.Repeat("a", 251), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestKeyPattern_Build(t *testing.T) {
	kp := NewKeyPattern("app", "")
	if got := kp.Build(); got != "app" {
		t.Errorf("Build() = %q, want %q", got, "app")
	}
	if got := kp.Build("user", "123"); got != "app:user:123" {
		t.Errorf("Build() = %q, want %q", got, "app:user:123")
	}

	kp = NewKeyPattern("app", "/")
	if got := kp.Build("a", "b"); got != "app/a/b" {
		t.Errorf("Build() = %q, want %q", got, "app/a/b")
	}
}

func TestResourceKeys(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"wallet", WalletKey(), "txflow:wallet:fiat"},
		{"beneficiaries", BeneficiariesKey("airtime"), "txflow:airtime:beneficiaries"},
		{"plans", PlansKey("data", "7"), "txflow:data:plans:7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
			if err := ValidateKey(tt.got); err != nil {
				t.Errorf("resource key %q is invalid: %v", tt.got, err)
			}
		})
	}
}

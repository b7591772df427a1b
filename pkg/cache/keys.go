package cache

import (
	"fmt"
	"strings"
	"unicode"
)

const maxKeyLength = 250

// ValidateKey checks if a cache key is valid.
//
// Rules:
// - Non-empty string
// - Maximum length of 250 characters
// - No control characters
// - No leading or trailing whitespace
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > maxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, maxKeyLength)
	}

	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
	}

	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}

	return nil
}

// KeyPattern builds cache keys with a consistent prefix and separator.
type KeyPattern struct {
	prefix    string
	separator string
}

// NewKeyPattern creates a new key pattern with the given prefix and separator.
func NewKeyPattern(prefix, separator string) *KeyPattern {
	if separator == "" {
		separator = ":"
	}
	return &KeyPattern{
		prefix:    prefix,
		separator: separator,
	}
}

// Build creates a cache key from the pattern and provided parts.
// Example: pattern.Build("user", "123") -> "prefix:user:123"
func (kp *KeyPattern) Build(parts ...string) string {
	var b strings.Builder
	b.WriteString(kp.prefix)
	for _, part := range parts {
		b.WriteString(kp.separator)
		b.WriteString(part)
	}
	return b.String()
}

// Resource keys. Each cached read model is keyed by the identity of the
// backend resource it mirrors.
var resources = NewKeyPattern("txflow", ":")

// WalletKey is the key of the fiat wallet balance snapshot.
func WalletKey() string {
	return resources.Build("wallet", "fiat")
}

// BeneficiariesKey is the key of the saved beneficiary list of a category.
func BeneficiariesKey(category string) string {
	return resources.Build(category, "beneficiaries")
}

// PlansKey is the key of the plan catalog of a provider within a category.
func PlansKey(category, providerID string) string {
	return resources.Build(category, "plans", providerID)
}

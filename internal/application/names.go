package application

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driven"
)

// Names end up in shell aliases (claude-<name>), so they are restricted to a
// safe alphabet.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

const (
	minNameLen = 2
	maxNameLen = 64
)

// NormalizeName lower-cases name, trims it and turns inner whitespace into
// dashes. The result must be 2 to 64 characters of [a-z0-9._-] starting with a
// letter or digit.
func NormalizeName(name string) (string, error) {
	n := strings.ToLower(strings.Join(strings.Fields(name), "-"))
	if len(n) < minNameLen || len(n) > maxNameLen || !namePattern.MatchString(n) {
		return "", fmt.Errorf("%q: %w", name, driven.ErrInvalidName)
	}
	return n, nil
}

// MaskSecret returns a preview safe to display: a short prefix and the last
// four characters.
func MaskSecret(secret string) string {
	if len(secret) < 16 {
		return "****"
	}
	prefix := secret[:7]
	return prefix + "..." + secret[len(secret)-4:]
}

package middleware

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Input validation and sanitization utilities

const (
	MaxImages       = 10
	MaxPromptLength = 4000
)

var (
	tenantPattern   = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	providerPattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)
)

// ValidateImageURL validates an image reference sent to providers.
func ValidateImageURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("image URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (allowed: http, https)", u.Scheme)
	}

	// SSRF protection: providers fetch the URL, our own network is off limits
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("image URL has no host")
	}
	blocked := []string{"localhost", "127.0.0.1", "0.0.0.0", "::1", "::"}
	for _, b := range blocked {
		if host == b {
			return fmt.Errorf("localhost/internal IPs are not allowed")
		}
	}
	if strings.HasPrefix(host, "10.") ||
		strings.HasPrefix(host, "192.168.") ||
		strings.HasPrefix(host, "169.254.") ||
		isPrivate172(host) {
		return fmt.Errorf("private IP ranges are not allowed")
	}
	return nil
}

// 172.16.0.0/12
func isPrivate172(host string) bool {
	if !strings.HasPrefix(host, "172.") {
		return false
	}
	var second int
	if _, err := fmt.Sscanf(host, "172.%d.", &second); err != nil {
		return false
	}
	return second >= 16 && second <= 31
}

// ValidateImages checks count and every URL.
func ValidateImages(images []string) error {
	if len(images) == 0 {
		return fmt.Errorf("at least one image is required")
	}
	if len(images) > MaxImages {
		return fmt.Errorf("too many images: %d (max %d)", len(images), MaxImages)
	}
	for i, img := range images {
		if err := ValidateImageURL(img); err != nil {
			return fmt.Errorf("images[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidatePrompt checks the user prompt length after sanitizing.
func ValidatePrompt(prompt string) error {
	if len([]rune(prompt)) > MaxPromptLength {
		return fmt.Errorf("prompt too long (max %d characters)", MaxPromptLength)
	}
	return nil
}

// ValidateProviders checks provider id format. Empty means use defaults.
func ValidateProviders(ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !providerPattern.MatchString(id) {
			return fmt.Errorf("invalid provider id: %q", id)
		}
		if seen[id] {
			return fmt.Errorf("duplicate provider id: %q", id)
		}
		seen[id] = true
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateTenantID validates tenant ID format
func ValidateTenantID(tenant string) error {
	if tenant == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}
	if !tenantPattern.MatchString(tenant) {
		return fmt.Errorf("invalid tenant ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

// ValidateRunID validates analysis run id format (uuid)
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid run ID format")
	}
	return nil
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}

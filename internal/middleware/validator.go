package middleware

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Input validation and sanitization utilities

// MaxImageBytes caps decoded product images.
const MaxImageBytes = 8 << 20

var (
	countryPattern = regexp.MustCompile(`^[A-Za-z]{2}$`)
	hsCodePattern  = regexp.MustCompile(`^[0-9]{4}(\.?[0-9]{2}){0,3}$`)
)

// ValidateCountry checks an ISO2 country code (any case).
func ValidateCountry(field, code string) error {
	if !countryPattern.MatchString(strings.TrimSpace(code)) {
		return fmt.Errorf("%s must be an ISO 3166-1 alpha-2 code, got %q", field, code)
	}
	return nil
}

// ValidateHSCode checks the shape of an HS code, e.g. 8501, 8501.10, 850110.
// Empty is allowed; the code is optional on most requests.
func ValidateHSCode(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	if !hsCodePattern.MatchString(code) {
		return fmt.Errorf("invalid hs_code format: %q", code)
	}
	return nil
}

// ValidateAnalysisID checks that id is a UUID.
func ValidateAnalysisID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid analysis id: %q", id)
	}
	return nil
}

// ValidateImageBase64 checks that s is base64 (optionally a data URL) and not
// larger than MaxImageBytes once decoded.
func ValidateImageBase64(s string) error {
	if s == "" {
		return nil
	}
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i > 0 {
		s = s[i+1:]
	}
	if base64.StdEncoding.DecodedLen(len(s)) > MaxImageBytes+3 {
		return fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
	}
	if _, err := base64.StdEncoding.DecodeString(s); err != nil {
		return fmt.Errorf("image_base64 is not valid base64")
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

// ValidatePage parses a 1-based page number; bad input means page 1.
func ValidatePage(raw string) int {
	p, err := strconv.Atoi(raw)
	if err != nil || p < 1 {
		return 1
	}
	return p
}

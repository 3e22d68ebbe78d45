package wire

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Sanitization limits.
const (
	// MaxDisplayNameLength caps peer display names.
	MaxDisplayNameLength = 50

	// MaxAddressLength caps link addresses.
	MaxAddressLength = 50
)

// SanitizeContent cleans raw message content for origination:
// Unicode is normalized to NFC, control characters (except newline and
// tab) become spaces, runs of spaces collapse, and the result is
// trimmed and cut to MaxContentLength, preferring a word boundary.
func SanitizeContent(content string) string {
	if content == "" {
		return ""
	}

	content = norm.NFC.String(content)
	content = stripControl(content)
	content = collapseSpaces(content)
	content = strings.TrimSpace(content)

	runes := []rune(content)
	if len(runes) > MaxContentLength {
		content = string(runes[:MaxContentLength])
		// Cut at a word boundary when one is reasonably close.
		if idx := strings.LastIndex(content, " "); idx > MaxContentLength*8/10 {
			content = content[:idx]
		}
	}
	return content
}

// ValidateContent checks sanitized content against the wire limits.
func ValidateContent(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	if len([]rune(content)) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// SanitizeDisplayName cleans a peer display name for safe rendering.
// Empty or all-control names become "Unknown Device".
func SanitizeDisplayName(name string) string {
	name = stripControl(norm.NFC.String(name))
	name = strings.TrimSpace(name)

	runes := []rune(name)
	if len(runes) > MaxDisplayNameLength {
		name = string(runes[:MaxDisplayNameLength])
	}
	if name == "" {
		return "Unknown Device"
	}
	return name
}

// SanitizeAddress strips everything from a link address that no
// backend uses: MAC addresses are hex, colons, and hyphens; LAN
// addresses are host:port. Letters, digits, dots, colons, hyphens, and
// the IPv6 brackets survive.
func SanitizeAddress(address string) string {
	var b strings.Builder
	for _, r := range address {
		switch {
		case r >= '0' && r <= '9',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r == '.', r == ':', r == '-', r == '[', r == ']':
			b.WriteRune(r)
		}
		if b.Len() >= MaxAddressLength {
			break
		}
	}
	return b.String()
}

// stripControl replaces control characters with spaces, keeping
// newline and tab.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
}

// collapseSpaces folds runs of spaces into one.
func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' {
			if prevSpace {
				continue
			}
			prevSpace = true
		} else {
			prevSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

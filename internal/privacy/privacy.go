// Package privacy provides utility functions for handling sensitive data
// in telemetry and logs, such as URL anonymization, Bluetooth address
// scrubbing, and system ID generation.
package privacy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Pre-compiled patterns, scrubbing runs on every telemetry event
var (
	urlPattern = regexp.MustCompile(`\b(?:https?|tcp|ssl|ws|wss|mqtt)://\S+`)

	// Bluetooth and network hardware addresses identify a household
	macPattern = regexp.MustCompile(`\b([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}\b`)

	credentialPattern = regexp.MustCompile(`(?i)\b(api[_-]?key|token|password|secret|auth)[=:]\S+`)

	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ScrubMessage removes or anonymizes sensitive information from telemetry
// messages. URLs are replaced with stable anonymized tokens, hardware
// addresses and credential-looking values are redacted.
func ScrubMessage(message string) string {
	scrubbed := urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	scrubbed = macPattern.ReplaceAllStringFunc(scrubbed, AnonymizeAddress)
	scrubbed = credentialPattern.ReplaceAllString(scrubbed, "$1=[REDACTED]")
	return scrubbed
}

// AnonymizeURL converts a URL to an anonymized form while preserving
// debugging value. The scheme, host category, port and path structure
// survive as a stable hash, credentials and hostnames do not.
func AnonymizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var normalizedParts []string

	if parsedURL.Scheme != "" {
		normalizedParts = append(normalizedParts, parsedURL.Scheme)
	}

	host := parsedURL.Hostname()
	if host != "" {
		normalizedParts = append(normalizedParts, categorizeHost(host))
	}

	if parsedURL.Port() != "" {
		normalizedParts = append(normalizedParts, "port-"+parsedURL.Port())
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		normalizedParts = append(normalizedParts, anonymizePath(parsedURL.Path))
	}

	normalized := strings.Join(normalizedParts, ":")
	hash := sha256.Sum256([]byte(normalized))

	return fmt.Sprintf("url-%x", hash[:12])
}

// AnonymizeAddress maps a Bluetooth or MAC address to a stable token so
// telemetry can correlate events from one device without revealing it.
func AnonymizeAddress(address string) string {
	hash := sha256.Sum256([]byte(strings.ToUpper(address)))
	return fmt.Sprintf("device-%x", hash[:6])
}

// AnonymizeDeviceName maps a Bluetooth device name to a stable token.
// Phone names routinely contain the owner's real name.
func AnonymizeDeviceName(name string) string {
	if name == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(name))
	return fmt.Sprintf("device-%x", hash[:6])
}

// GenerateSystemID creates a unique system identifier.
// The ID is 12 hex characters formatted as XXXX-XXXX-XXXX.
func GenerateSystemID() (string, error) {
	bytes := make([]byte, 6)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	id := hex.EncodeToString(bytes)
	formatted := fmt.Sprintf("%s-%s-%s", id[0:4], id[4:8], id[8:12])

	return strings.ToUpper(formatted), nil
}

// IsValidSystemID checks if a system ID has the correct format
func IsValidSystemID(id string) bool {
	if len(id) != 14 {
		return false
	}

	if id[4] != '-' || id[9] != '-' {
		return false
	}

	for i, char := range id {
		if i == 4 || i == 9 {
			continue
		}
		if !isHexChar(char) {
			return false
		}
	}

	return true
}

// categorizeHost anonymizes hostnames while preserving useful categorization
func categorizeHost(host string) string {
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return "localhost"
	}

	if isPrivateIP(host) {
		return "private-ip"
	}

	if isIPAddress(host) {
		return "public-ip"
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		tld := parts[len(parts)-1]
		return "domain-" + tld
	}

	return "unknown-host"
}

// anonymizePath keeps the segment count and extension of a path without
// its contents.
func anonymizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}

	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]

	ext := ""
	if dot := strings.LastIndex(last, "."); dot > 0 {
		ext = last[dot:]
	}

	return fmt.Sprintf("path-%d%s", len(segments), ext)
}

func isIPAddress(host string) bool {
	if ipv4Pattern.MatchString(host) {
		return net.ParseIP(host) != nil
	}
	return net.ParseIP(host) != nil
}

func isPrivateIP(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
}

func isHexChar(char rune) bool {
	return (char >= '0' && char <= '9') ||
		(char >= 'a' && char <= 'f') ||
		(char >= 'A' && char <= 'F')
}

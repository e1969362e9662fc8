// Package validation checks and sanitizes client-supplied input before it
// reaches the room layer or the database: account credentials, raw wire
// messages, and the numeric fields of gameplay reports.
package validation

import (
	"encoding/json"
	"fmt"
	"html"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	MaxMessageSize    = 16 * 1024 // generous; the largest frame is a join snapshot
	MinUsernameLen    = 3
	MaxUsernameLen    = 20
	MinPasswordLen    = 8
	MaxPasswordLen    = 72 // bcrypt input ceiling
	MaxMessagesPerMin = 300
)

var validUsernameChars = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MessageValidator screens raw wire frames: size, JSON shape, and a
// per-connection rate limit.
type MessageValidator struct {
	rateLimiter *RateLimiter
}

// NewMessageValidator creates a validator with the default per-connection
// rate limit.
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{
		rateLimiter: NewRateLimiter(MaxMessagesPerMin, time.Minute),
	}
}

// Close releases the validator's background resources.
func (v *MessageValidator) Close() {
	if v.rateLimiter != nil {
		v.rateLimiter.Close()
	}
}

// ValidateMessage rejects oversized, malformed, or rate-limited frames
// before any payload decoding happens.
func (v *MessageValidator) ValidateMessage(data []byte, connID string) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(data), MaxMessageSize)
	}
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON")
	}
	if !v.rateLimiter.Allow(connID) {
		return fmt.Errorf("rate limit exceeded: max %d messages per minute", MaxMessagesPerMin)
	}
	return nil
}

// ValidateUsername checks an account or display name and returns the
// sanitized form stored and broadcast by the server.
func ValidateUsername(name string) (string, error) {
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("username contains invalid UTF-8")
	}
	trimmed := strings.TrimSpace(name)
	if len(trimmed) < MinUsernameLen {
		return "", fmt.Errorf("username too short: minimum %d characters", MinUsernameLen)
	}
	if len(trimmed) > MaxUsernameLen {
		return "", fmt.Errorf("username too long: maximum %d characters", MaxUsernameLen)
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("username contains control characters")
		}
	}
	if !validUsernameChars.MatchString(trimmed) {
		return "", fmt.Errorf("username may only contain letters, digits, hyphens, and underscores")
	}
	return html.EscapeString(trimmed), nil
}

// ValidatePassword checks password length bounds. Content is unrestricted;
// it only ever exists as a bcrypt hash server-side.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLen {
		return fmt.Errorf("password too short: minimum %d characters", MinPasswordLen)
	}
	if len(password) > MaxPasswordLen {
		return fmt.Errorf("password too long: maximum %d characters", MaxPasswordLen)
	}
	return nil
}

// ValidatePose rejects non-finite or wildly out-of-world coordinates. The
// bounds are padded because clients report poses mid-wraparound.
func ValidatePose(x, y float64, worldWidth, worldHeight float64) error {
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
		return fmt.Errorf("pose coordinates must be finite")
	}
	const pad = 100.0
	if x < -pad || x > worldWidth+pad || y < -pad || y > worldHeight+pad {
		return fmt.Errorf("pose (%g, %g) outside world bounds", x, y)
	}
	return nil
}

// ValidateHazardID checks a reported hazard unit id.
func ValidateHazardID(id, fieldSize int) error {
	if id < 0 || id >= fieldSize {
		return fmt.Errorf("invalid hazard id: %d", id)
	}
	return nil
}

// ValidateFuelAmount checks a client-reported fuel burn.
func ValidateFuelAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("fuel amount must be finite")
	}
	if amount <= 0 {
		return fmt.Errorf("fuel amount must be positive: %g", amount)
	}
	if amount > 1000 {
		return fmt.Errorf("fuel amount too large: %g", amount)
	}
	return nil
}

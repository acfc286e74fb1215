package ratelimit

import "strings"

// KeyForSender builds a limiter key from a sender phone number. An empty
// number yields an empty key, which limiters treat as unlimited.
func KeyForSender(number string) string {
	number = strings.TrimSpace(number)
	if number == "" {
		return ""
	}
	return "sender:" + number
}

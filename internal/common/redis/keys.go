package redis

const rateLimitKeyPrefix = "ratelimit:"

// RateLimitKey returns the counter key for one client identity's window
func RateLimitKey(identity string) string {
	return rateLimitKeyPrefix + identity
}

package ratelimit

// ConnLimiter enforces the inbound budget of a single signaling connection.
// A zero limit disables that dimension.
type ConnLimiter struct {
	messages *TokenBucket
	bytes    *TokenBucket
}

// Reasons returned by ConnLimiter.AllowMessage.
const (
	ReasonMessageRate = "message_rate"
	ReasonByteRate    = "byte_rate"
)

func NewConnLimiter(clock Clock, messagesPerSecond, bytesPerSecond int) *ConnLimiter {
	l := &ConnLimiter{}
	if messagesPerSecond > 0 {
		l.messages = NewTokenBucket(clock, int64(messagesPerSecond), int64(messagesPerSecond))
	}
	if bytesPerSecond > 0 {
		l.bytes = NewTokenBucket(clock, int64(bytesPerSecond), int64(bytesPerSecond))
	}
	return l
}

// AllowMessage charges one message of size bytes. When it is rejected the
// returned reason names the exhausted budget.
func (l *ConnLimiter) AllowMessage(size int) (bool, string) {
	if l == nil {
		return true, ""
	}
	if l.messages != nil && !l.messages.Allow(1) {
		return false, ReasonMessageRate
	}
	if l.bytes != nil && !l.bytes.Allow(int64(size)) {
		return false, ReasonByteRate
	}
	return true, ""
}

package pubsub

import (
	"errors"
	"fmt"
	"strings"
)

// Wildcard is the trailing pattern segment that matches one or more topic segments.
const Wildcard = "*"

// ErrInvalidPattern is returned when a subscription pattern is empty or malformed.
var ErrInvalidPattern = errors.New("invalid topic pattern")

// ValidatePattern checks that pattern is non-empty, has no empty segments and
// only uses the wildcard as its final segment.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	segments := strings.Split(pattern, ".")
	for i, seg := range segments {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidPattern, pattern)
		}
		if strings.Contains(seg, Wildcard) && (seg != Wildcard || i != len(segments)-1) {
			return fmt.Errorf("%w: wildcard must be the final segment in %q", ErrInvalidPattern, pattern)
		}
	}
	return nil
}

// Match reports whether topic is matched by pattern. The pattern is assumed valid.
func Match(pattern, topic string) bool {
	if pattern == Wildcard {
		return topic != ""
	}
	prefix, ok := strings.CutSuffix(pattern, "."+Wildcard)
	if !ok {
		return pattern == topic
	}
	// Trailing wildcard needs at least one more segment after the prefix.
	return strings.HasPrefix(topic, prefix+".") && len(topic) > len(prefix)+1
}

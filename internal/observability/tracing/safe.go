package tracing

import (
	"errors"
	"strings"

	"github.com/smallbiznis/edupass/internal/errkind"
	"go.opentelemetry.io/otel/attribute"
)

var blockedAttributeFragments = []string{"token", "secret", "password", "authorization", "phone"}

// SafeAttributes drops attributes whose keys could carry credentials or
// personal data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		key := strings.ToLower(string(attr.Key))
		blocked := false
		for _, fragment := range blockedAttributeFragments {
			if strings.Contains(key, fragment) {
				blocked = true
				break
			}
		}
		if !blocked {
			out = append(out, attr)
		}
	}
	return out
}

// SafeError reduces err to its classification so raw messages, which may
// echo request input, never land on a span.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(string(errkind.KindOf(err)))
}

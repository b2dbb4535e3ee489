package hub

import (
	"fmt"
	"regexp"

	"golang.org/x/crypto/blake2b"
)

var disallowedInTopic = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// sanitizeTopic folds any character outside the namespace's allowed
// identifier set into '_', per design §4.3 ("path separators disallowed or
// folded to a safe separator").
func sanitizeTopic(topic string) string {
	return disallowedInTopic.ReplaceAllString(topic, "_")
}

// regionKey derives a Region key from a topic name and its payload layout.
// Combining the sanitized topic with a hash of the layout's type name and
// byte size puts two endpoints that share a topic name but disagree on
// payload layout in different regions, so they never alias one another's
// bytes. The disagreement is not reported: each layout opens its own region
// and Open succeeds for both.
func regionKey(topic string, typeName string, payloadSize uint32) string {
	digest := blake2b.Sum256(fmt.Appendf(nil, "%s:%d", typeName, payloadSize))
	return fmt.Sprintf("%s-%x", sanitizeTopic(topic), digest[:6])
}

// Package version centralizes the versioning of the logical components that
// feed the Redis caches.
//
// Cache keys embed these version strings, so bumping a version invalidates
// every entry produced by the previous logic without touching Redis directly.
// If the introspection directive changes, for example, previously resolved
// schema descriptions are stale; bumping Prompts below makes the resolver
// miss the cache and rediscover the schema.
package version

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComponentVersions holds the version strings for the logical parts of the
// assistant. Increment a version here before deploying a change to that
// component.
var ComponentVersions = struct {
	// Prompts covers the system directives handed to the model (schema
	// discovery and query generation).
	Prompts string

	// Tools covers the SQL tool's behavior: its advertised schema, the
	// read-only statement policy, and the row rendering format.
	Tools string
}{
	Prompts: "v1.0",
	Tools:   "v1.0",
}

// Key builds a consistent, version-aware cache key from a prefix and an
// arbitrary payload (typically the user's request text). The payload is
// hashed so keys stay fixed-length regardless of prompt size.
//
// Example: "schemacache:a1b2c3...:pv1.0_tv1.0"
func Key(prefix, payload string) string {
	hasher := sha256.New()
	hasher.Write([]byte(payload))
	digest := hex.EncodeToString(hasher.Sum(nil))

	return fmt.Sprintf("%s:%s:p%s_t%s", prefix, digest,
		ComponentVersions.Prompts, ComponentVersions.Tools)
}

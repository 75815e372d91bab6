// Package dockerfile renders the per-project Dockerfile sent to the
// container platform. The entrypoint script is a versioned asset embedded at
// build time and injected base64-encoded, so no untrusted value is ever
// interpolated into shell text; runtime inputs travel as environment
// variables instead.
package dockerfile

import (
	_ "embed"
	"encoding/base64"
	"fmt"
	"regexp"
)

//go:embed entrypoint.sh
var entrypoint []byte

// imageRefRe restricts image references to registry/repository:tag shapes.
// Anything else is rejected before it can reach Dockerfile text.
var imageRefRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*(:[a-zA-Z0-9._-]+)?$`)

// Render produces the Dockerfile for the given assistant image reference.
func Render(imageRef string) (string, error) {
	if !imageRefRe.MatchString(imageRef) {
		return "", fmt.Errorf("invalid image reference %q", imageRef)
	}

	encoded := base64.StdEncoding.EncodeToString(entrypoint)
	return fmt.Sprintf(`FROM %s

USER root
RUN echo %s | base64 -d > /usr/local/bin/codeopen-entrypoint \
    && chmod 755 /usr/local/bin/codeopen-entrypoint
USER opencode

ENTRYPOINT ["/usr/local/bin/codeopen-entrypoint"]
`, imageRef, encoded), nil
}

// Entrypoint returns the embedded entrypoint script (for tests and doctor
// output).
func Entrypoint() []byte {
	out := make([]byte, len(entrypoint))
	copy(out, entrypoint)
	return out
}

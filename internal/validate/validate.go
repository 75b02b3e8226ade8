// Package validate checks identifiers and endpoint URLs accepted over the
// control API.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
)

// identRe matches valid session identifiers. Must start with alphanumeric,
// followed by alphanumeric, dots, hyphens, or underscores.
var identRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// uidRe matches player UIDs, which are plain digit strings.
var uidRe = regexp.MustCompile(`^[0-9]+$`)

// MaxIdentLen is the maximum length for session identifiers.
const MaxIdentLen = 128

// SessionID validates a string as a session identifier.
func SessionID(s string) bool {
	return len(s) > 0 && len(s) <= MaxIdentLen && identRe.MatchString(s)
}

// UID validates a target or account UID.
func UID(s string) bool {
	return len(s) > 0 && len(s) <= 32 && uidRe.MatchString(s)
}

// HTTPURL ensures the URL uses http or https scheme and has a non-empty
// host, preventing configured endpoints from smuggling file:// or other
// schemes into the pipeline.
func HTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "":
		return fmt.Errorf("URL missing scheme: %s", rawURL)
	default:
		return fmt.Errorf("URL scheme %q not allowed (only http/https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL missing host: %s", rawURL)
	}
	return nil
}

// GitHubRepo validates an owner/name repository reference.
var repoRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*/[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

func GitHubRepo(s string) bool {
	return repoRe.MatchString(s)
}

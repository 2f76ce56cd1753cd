package transport

import "regexp"

// Credentials must never reach a log line. Redact masks the two places
// they can appear: userinfo in URLs and authorization header values.
var (
	userinfoPattern = regexp.MustCompile(`(?i)(https?://)([^/@\s:]+):([^/@\s]+)@`)
	authPattern     = regexp.MustCompile(`(?i)(authorization:\s*)(\S+\s*\S*)`)
)

// Redact masks user:pass@ components and authorization header values
// in s. Safe to apply to any string headed for a log.
func Redact(s string) string {
	s = userinfoPattern.ReplaceAllString(s, "${1}***:***@")
	s = authPattern.ReplaceAllString(s, "${1}***")
	return s
}

package debuglog

import "regexp"

// Secret-bearing shapes that must never land in the ring buffer. Best-effort:
// a miss here leaks to an authenticated endpoint only, but we still try hard.
var scrubPatterns = []*regexp.Regexp{
	// Authorization: Bearer <token>
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`),
	// "access_token":"..." and friends in serialized JSON
	regexp.MustCompile(`"(access_token|id_token|refresh_token|client_secret|token)"\s*:\s*"[^"]*"`),
	// JWT-shaped tokens
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]+`),
	// Anthropic access tokens and API keys
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]+`),
}

var fieldName = regexp.MustCompile(`^"([a-z_]+)"`)

// Scrub redacts known secret shapes from s.
func Scrub(s string) string {
	for _, re := range scrubPatterns {
		s = re.ReplaceAllStringFunc(s, func(m string) string {
			// Keep JSON field names readable: "token":"xyz" -> "token":"[redacted]"
			if f := fieldName.FindStringSubmatch(m); f != nil {
				return `"` + f[1] + `":"[redacted]"`
			}
			return "[redacted]"
		})
	}
	return s
}

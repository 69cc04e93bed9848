package security

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	redacted    = "[REDACTED]"
	urlRedacted = "REDACTED"
)

// LogSanitizer remove credenciais e segredos antes de escrever logs.
type LogSanitizer struct {
	patterns  []*regexp.Regexp
	pathToken *regexp.Regexp
}

func NewLogSanitizer() *LogSanitizer {
	return &LogSanitizer{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(api[_-]?key|access[_-]?token|token|secret|password|authorization)\s*[:=]\s*['"]?[\w\-\.]+['"]?`),
			regexp.MustCompile(`(?i)bearer\s+[\w\-\.=]+`),
			regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{20,}`),
			regexp.MustCompile(`phc_[a-zA-Z0-9]{20,}`),
		},
		// /login/user/<token>.json
		pathToken: regexp.MustCompile(`(/login/user/)[^/?#]+?(\.json)?$`),
	}
}

func (s *LogSanitizer) Sanitize(message string) string {
	if s == nil {
		return message
	}

	clean := message
	for _, p := range s.patterns {
		clean = p.ReplaceAllString(clean, redacted)
	}
	return clean
}

// SanitizeURL mascara tokens de polling no path e parâmetros sensíveis na query.
func (s *LogSanitizer) SanitizeURL(raw string) string {
	if s == nil {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return s.Sanitize(raw)
	}

	u.Path = s.pathToken.ReplaceAllString(u.Path, "${1}"+urlRedacted+"${2}")
	u.RawPath = ""
	if u.RawQuery != "" {
		query := u.Query()
		for key := range query {
			lower := strings.ToLower(key)
			if strings.Contains(lower, "token") || strings.Contains(lower, "key") || strings.Contains(lower, "code") {
				query.Set(key, urlRedacted)
			}
		}
		u.RawQuery = query.Encode()
	}
	u.User = nil
	return u.String()
}

package config

import (
	"net/url"
	"strings"
)

// Redacted is the fixed token substituted for credential material in any
// rendered URL or command text.
const Redacted = "***"

// RedactURL replaces any userinfo segment of a URL with the redaction token.
// Non-URL strings are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User(Redacted)
	return u.String()
}

// MaskSecrets replaces every literal occurrence of the given secret values in
// text with the redaction token. Empty secrets are skipped so masking never
// corrupts text. Every remote command line and error message that could carry
// a credential must pass through here before being logged.
func MaskSecrets(text string, secrets ...string) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		text = strings.ReplaceAll(text, s, Redacted)
		// Also catch the URL-encoded form produced by url.UserPassword.
		if enc := url.QueryEscape(s); enc != s {
			text = strings.ReplaceAll(text, enc, Redacted)
		}
	}
	return text
}

// Secrets returns the credential values that must be masked in any text
// produced while operating on this config.
func (c *DeploymentConfig) Secrets() []string {
	return []string{c.AuthToken}
}

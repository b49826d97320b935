// Package secrets keeps credentials out of log output.
package secrets

import (
	"net/url"
	"regexp"
)

// Brackets would be percent-escaped inside URLs, so the mask is bare.
const mask = "REDACTED"

// Matches password settings in keyword/value DSNs like
// "host=db password=hunter2 sslmode=disable".
var keywordPassword = regexp.MustCompile(`(?i)(password\s*=\s*)\S+`)

// Credential-bearing query parameters seen in connection URLs.
var credentialParams = []string{"password", "apikey", "api_key", "token"}

// RedactURL masks the userinfo password and credential query
// parameters of a connection URL so DSNs can be logged. Strings that
// do not parse as URLs get keyword-style password masking instead.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return keywordPassword.ReplaceAllString(raw, "${1}"+mask)
	}

	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), mask)
		}
	}

	q := u.Query()
	changed := false
	for _, k := range credentialParams {
		if q.Has(k) {
			q.Set(k, mask)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}

	return u.String()
}

// RedactKey keeps a short prefix so operators can tell keys apart
// without the key itself appearing in logs.
func RedactKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return mask
	}
	return key[:4] + mask
}

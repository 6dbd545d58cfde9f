// Package pattern implements date-token resolution and wildcard matching
// for file path and filename patterns.
package pattern

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/inletworks/inlet/internal/errors"
)

// Supported date tokens, matched case-insensitively.
const (
	TokenYear4 = "{yyyy}"
	TokenYear2 = "{yy}"
	TokenMonth = "{mm}"
	TokenDay   = "{dd}"
)

var braceToken = regexp.MustCompile(`\{[^{}]*\}`)

// Resolve replaces date tokens in pattern with the date of instant in loc.
// Resolution is pure: the same pattern and instant always produce the same
// string. Unknown tokens are left untouched; Validate rejects them upfront.
func Resolve(pattern string, instant time.Time, loc *time.Location) string {
	if pattern == "" {
		return pattern
	}
	if loc == nil {
		loc = time.UTC
	}
	local := instant.In(loc)

	return braceToken.ReplaceAllStringFunc(pattern, func(tok string) string {
		switch strings.ToLower(tok) {
		case TokenYear4:
			return local.Format("2006")
		case TokenYear2:
			return local.Format("06")
		case TokenMonth:
			return local.Format("01")
		case TokenDay:
			return local.Format("02")
		default:
			return tok
		}
	})
}

// Validate rejects patterns containing curly-brace tokens outside the
// supported set, reporting every offending token.
func Validate(pattern string) error {
	var unknown []string
	for _, tok := range braceToken.FindAllString(pattern, -1) {
		switch strings.ToLower(tok) {
		case TokenYear4, TokenYear2, TokenMonth, TokenDay:
		default:
			unknown = append(unknown, tok)
		}
	}
	if len(unknown) > 0 {
		return errors.New(errors.CategoryConfigurationError, "validate_pattern",
			fmt.Errorf("unsupported tokens: %s", strings.Join(unknown, ", ")))
	}
	return nil
}

// ValidateHost rejects date tokens in the host portion of an address.
// Accepts either a full URL (scheme://host/path) or a bare host.
func ValidateHost(address string) error {
	host := address
	if strings.Contains(address, "://") {
		if u, err := url.Parse(address); err == nil && u.Host != "" {
			host = u.Host
		} else {
			// Unparseable URL: check everything up to the first path separator.
			rest := address[strings.Index(address, "://")+3:]
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				host = rest[:i]
			} else {
				host = rest
			}
		}
	} else if i := strings.IndexByte(address, '/'); i >= 0 {
		host = address[:i]
	}

	if containsDateToken(host) {
		return errors.New(errors.CategoryConfigurationError, "validate_host",
			fmt.Errorf("host cannot contain date tokens"))
	}
	return nil
}

func containsDateToken(s string) bool {
	lower := strings.ToLower(s)
	for _, tok := range []string{TokenYear4, TokenYear2, TokenMonth, TokenDay} {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// Package origin decides which peers a guest may talk to.
//
// Two checks exist. At construction time the configured host origin must
// match one of the allow-listed patterns. For every inbound message the
// claimed origin must equal the configured one and the message must come
// from the configured channel endpoint; the second part stops a same-origin
// page in another window from impersonating the host.
package origin

import (
	"fmt"
	"net/url"
	"reflect"
	"regexp"
)

// DefaultPatterns returns the origins a guest accepts out of the box:
// localhost for development plus the production and staging host domains.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`^https?://127\.0\.0\.1(:\d+)?$`),
		regexp.MustCompile(`^https?://localhost(:\d+)?$`),
		regexp.MustCompile(`^https://.+\.zendesk\.com$`),
		regexp.MustCompile(`^https://.+\.zd-staging\.com$`),
		regexp.MustCompile(`^https://.+\.zd-dev\.com$`),
		regexp.MustCompile(`^https://.+\.zd-master\.com$`),
		regexp.MustCompile(`^https://.+\.zendesk-staging\.com$`),
		// chat
		regexp.MustCompile(`^https?://.+\.zopim\.com(:\d+)?$`),
		regexp.MustCompile(`^https://dashboard\.zopim\.org$`),
		// sell
		regexp.MustCompile(`^https://.+\.futuresimple\.com$`),
		regexp.MustCompile(`^https://.+\.cloudhatchery\.com$`),
		regexp.MustCompile(`^https://.+\.idealwith\.com$`),
		regexp.MustCompile(`^https://.+\.ourtesco\.com$`),
	}
}

// InvalidOriginError reports a configured origin outside the allow-list.
type InvalidOriginError struct {
	Origin   string
	Hostname string
}

func (e *InvalidOriginError) Error() string {
	return fmt.Sprintf("Invalid domain %s", e.Origin)
}

// Validator holds an allow-list of origin patterns.
type Validator struct {
	patterns []*regexp.Regexp
}

// NewValidator creates a validator. With no patterns it uses DefaultPatterns.
func NewValidator(patterns ...*regexp.Regexp) *Validator {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	return &Validator{patterns: patterns}
}

// Allow returns a copy of v that also accepts the given patterns.
func (v *Validator) Allow(patterns ...*regexp.Regexp) *Validator {
	all := make([]*regexp.Regexp, 0, len(v.patterns)+len(patterns))
	all = append(all, v.patterns...)
	all = append(all, patterns...)
	return &Validator{patterns: all}
}

// Allowed reports whether origin matches one of the patterns.
func (v *Validator) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, p := range v.patterns {
		if p.MatchString(origin) {
			return true
		}
	}
	return false
}

// Check returns an *InvalidOriginError when origin is not allowed.
func (v *Validator) Check(origin string) error {
	if v.Allowed(origin) {
		return nil
	}
	return &InvalidOriginError{Origin: origin, Hostname: Hostname(origin)}
}

// Hostname extracts the host part of an origin, or "" when it does not parse.
func Hostname(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// IsTrusted reports whether an inbound message may be trusted: its origin
// must equal the expected origin and its source must be the expected
// endpoint.
func IsTrusted(candidateOrigin string, candidateSource interface{}, expectedOrigin string, expectedSource interface{}) bool {
	if candidateOrigin == "" || candidateOrigin != expectedOrigin {
		return false
	}
	return SameEndpoint(candidateSource, expectedSource)
}

// SameEndpoint compares two endpoint handles by identity. Handles whose
// dynamic type is not comparable never match.
func SameEndpoint(a, b interface{}) bool {
	if a == nil || b == nil {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

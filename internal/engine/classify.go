package engine

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
)

// DefaultTransientPhrases are lower-case fragments of error text that mark a
// failure as retryable when the engine did not wrap it explicitly. A phrase
// only matches at word boundaries, so "503" does not match inside
// "img_5030.jpg". A trailing "*" lets the last word continue, as in
// "throttl*" matching "throttled".
var DefaultTransientPhrases = []string{
	"rate limit*",
	"too many requests",
	"429",
	"throttl*",
	"connection reset",
	"connection refused",
	"broken pipe",
	"eof",
	"tls",
	"ssl",
	"timeout*",
	"timed out",
	"deadline exceeded",
	"temporarily unavailable",
	"service unavailable",
	"bad gateway",
	"502",
	"503",
	"504",
	"频率限制",
	"请求过于频繁",
}

// Classifier decides whether an engine error is worth retrying.
type Classifier struct {
	patterns []*regexp.Regexp
}

// NewClassifier returns a classifier using DefaultTransientPhrases plus extra.
func NewClassifier(extra ...string) *Classifier {
	c := &Classifier{patterns: make([]*regexp.Regexp, 0, len(DefaultTransientPhrases)+len(extra))}
	for _, p := range append(append([]string{}, DefaultTransientPhrases...), extra...) {
		if re := phrasePattern(p); re != nil {
			c.patterns = append(c.patterns, re)
		}
	}
	return c
}

// phrasePattern anchors p at word boundaries wherever its edge is an ASCII
// word character. Other scripts have no boundary to anchor on.
func phrasePattern(p string) *regexp.Regexp {
	p = strings.ToLower(strings.TrimSpace(p))
	stem := strings.HasSuffix(p, "*")
	p = strings.TrimSpace(strings.TrimSuffix(p, "*"))
	if p == "" {
		return nil
	}

	expr := regexp.QuoteMeta(p)
	if isWordByte(p[0]) {
		expr = `\b` + expr
	}
	if !stem && isWordByte(p[len(p)-1]) {
		expr += `\b`
	}
	return regexp.MustCompile(expr)
}

func isWordByte(b byte) bool {
	return b == '_' || '0' <= b && b <= '9' || 'a' <= b && b <= 'z'
}

// IsTransient reports whether err should be retried. Explicit ErrTerminal
// and caller cancellation always win over the phrase match.
func (c *Classifier) IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrTerminal), errors.Is(err, ErrUnavailable), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, re := range c.patterns {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}

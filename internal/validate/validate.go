// Package validate holds the hard gates applied before network calls and
// before extraction.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

// Defaults for the content gates.
const (
	DefaultMinLength = 500
)

// DefaultKeywords is the topical vocabulary a page must touch.
var DefaultKeywords = []string{
	"youth", "justice", "program", "community", "child", "young",
	"detention", "support", "service", "legal", "aboriginal", "indigenous",
}

// DefaultDenylist names social-media domains that are never fetched.
var DefaultDenylist = []string{"facebook.com", "twitter.com", "instagram.com"}

// Quality failure messages recorded on the link.
const (
	MsgTooShort   = "Content quality check failed: too short"
	MsgNoKeywords = "Content quality check failed: no relevant keywords"
)

// Config tunes the gates.
type Config struct {
	MinLength int
	Keywords  []string
	Denylist  []string
}

// Validator applies URL and content gates.
type Validator struct {
	minLength int
	keywords  *regexp.Regexp
	denylist  *ingest.Denylist
}

// New compiles cfg. Empty fields take the defaults.
func New(cfg Config) (*Validator, error) {
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultMinLength
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = DefaultKeywords
	}
	if cfg.Denylist == nil {
		cfg.Denylist = DefaultDenylist
	}
	quoted := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			quoted = append(quoted, regexp.QuoteMeta(kw))
		}
	}
	if len(quoted) == 0 {
		return nil, fmt.Errorf("validate: no keywords configured")
	}
	re, err := regexp.Compile(`(?i)` + strings.Join(quoted, "|"))
	if err != nil {
		return nil, fmt.Errorf("compile keywords: %w", err)
	}
	return &Validator{
		minLength: cfg.MinLength,
		keywords:  re,
		denylist:  ingest.NewDenylist(cfg.Denylist),
	}, nil
}

// CheckURL rejects URLs that must never be fetched: non-http schemes
// (mailto:, tel:, ...) and denylisted hosts. The error wraps ErrDenied.
func (v *Validator) CheckURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ingest.NewFailure(ingest.FailureDenied, "invalid url", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		if scheme == "" {
			return ingest.NewFailure(ingest.FailureDenied, "unsupported url: missing scheme", nil)
		}
		return ingest.NewFailure(ingest.FailureDenied, fmt.Sprintf("unsupported url scheme %q", scheme), nil)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ingest.NewFailure(ingest.FailureDenied, "invalid url: missing host", nil)
	}
	if v.denylist.Blocks(host) {
		return ingest.NewFailure(ingest.FailureDenied, fmt.Sprintf("domain %s is denylisted", host), nil)
	}
	return nil
}

// CheckContent applies the length and topical-relevance gates. Length is
// measured in characters after trimming whitespace.
func (v *Validator) CheckContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if len([]rune(trimmed)) < v.minLength {
		return ingest.NewFailure(ingest.FailureContentQuality, MsgTooShort, nil)
	}
	if !v.keywords.MatchString(trimmed) {
		return ingest.NewFailure(ingest.FailureContentQuality, MsgNoKeywords, nil)
	}
	return nil
}

// MinLength returns the configured length gate.
func (v *Validator) MinLength() int {
	return v.minLength
}

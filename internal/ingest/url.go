package ingest

import (
	"fmt"
	"net/url"
	"strings"
)

// Hostname returns the lowercase host of rawURL without port.
func Hostname(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("parse url: missing host in %q", rawURL)
	}
	return strings.TrimSuffix(host, "."), nil
}

// NormalizeURL lowercases scheme and host, drops default ports and fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	return u.String(), nil
}

var jurisdictionRules = []struct {
	code    string
	needles []string
}{
	{"VIC", []string{".vic.gov.au", "victoria"}},
	{"QLD", []string{".qld.gov.au", "queensland"}},
	{"NSW", []string{".nsw.gov.au", "new-south-wales"}},
	{"NT", []string{".nt.gov.au", "northern-territory"}},
	{"SA", []string{".sa.gov.au", "south-australia"}},
	{"WA", []string{".wa.gov.au", "western-australia"}},
	{"TAS", []string{".tas.gov.au", "tasmania"}},
	{"ACT", []string{".act.gov.au", "canberra"}},
	{"National", []string{"aihw.gov.au", "pc.gov.au"}},
}

// JurisdictionUnknown is returned when no rule matches.
const JurisdictionUnknown = "Unknown"

// DetectJurisdiction guesses the Australian jurisdiction a URL belongs to.
// Rules are checked in order, so a state match wins over National.
func DetectJurisdiction(rawURL string) string {
	lower := strings.ToLower(rawURL)
	for _, rule := range jurisdictionRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.code
			}
		}
	}
	return JurisdictionUnknown
}

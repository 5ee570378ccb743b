package ingest

import "strings"

// Denylist matches hosts that must never be fetched. A plain entry matches
// the host and its subdomains; "*.example.com" or ".example.com" match only
// subdomains.
type Denylist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewDenylist builds a matcher from configured patterns. It returns nil when
// no usable pattern is given; a nil Denylist blocks nothing.
func NewDenylist(patterns []string) *Denylist {
	d := &Denylist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			d.addSuffix(strings.TrimPrefix(value, "*."), false)
		case strings.HasPrefix(value, "."):
			d.addSuffix(strings.TrimPrefix(value, "."), false)
		default:
			d.addSuffix(value, true)
		}
	}
	if len(d.exact) == 0 && len(d.suffixes) == 0 {
		return nil
	}
	return d
}

func (d *Denylist) addSuffix(suffix string, includeApex bool) {
	if suffix == "" {
		return
	}
	if includeApex {
		d.exact[suffix] = struct{}{}
	}
	for _, existing := range d.suffixes {
		if existing == suffix {
			return
		}
	}
	d.suffixes = append(d.suffixes, suffix)
}

// Blocks reports whether host is denied.
func (d *Denylist) Blocks(host string) bool {
	if d == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := d.exact[host]; ok {
		return true
	}
	for _, suffix := range d.suffixes {
		if strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

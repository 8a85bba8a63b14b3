// Package geoip implements the rule's optional geoip_country criterion
// (§3 "optional country-code list", §10's GeoIP supplement): resolving
// a packet's source or destination address to an ISO country code via
// an on-disk MaxMind database, so the Classifier Engine's fallback scan
// can treat geoip_country as one more match criterion.
package geoip

import (
	"net"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"github.com/wardfw/ward/internal/errors"
)

// Resolver looks up the ISO country code for an IPv4 address.
type Resolver struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
}

// Open loads a MaxMind GeoLite2/GeoIP2 country database from path. An
// empty path returns a Resolver whose Lookups always report "no
// database configured" rather than erroring at construction, so the
// Classifier Engine can treat a disabled GeoIP feature uniformly with
// a real one that simply never matches.
func Open(path string) (*Resolver, error) {
	if path == "" {
		return &Resolver{}, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "open geoip database %s", path)
	}
	return &Resolver{reader: reader}, nil
}

// Close releases the underlying database handle, if any.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader == nil {
		return nil
	}
	return r.reader.Close()
}

// Country returns the upper-case ISO 3166-1 alpha-2 country code for
// ip, or "" if no database is loaded or the address isn't found.
func (r *Resolver) Country(ip net.IP) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reader == nil || ip == nil {
		return ""
	}
	record, err := r.reader.Country(ip)
	if err != nil || record == nil {
		return ""
	}
	return strings.ToUpper(record.Country.IsoCode)
}

// Matches reports whether ip's country is present in countries
// (case-insensitively). An empty countries list always matches (no
// geoip criterion configured on the rule); a non-empty list with no
// database loaded never matches, since there is nothing to check
// against.
func (r *Resolver) Matches(ip net.IP, countries []string) bool {
	if len(countries) == 0 {
		return true
	}
	code := r.Country(ip)
	if code == "" {
		return false
	}
	for _, c := range countries {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

package auth

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// onSite reports whether rawURL is served from the registrable domain of
// site (its eTLD+1), subdomains included. Mentions of the site elsewhere in
// the URL, such as a redirect parameter, don't count.
func onSite(rawURL, site string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host, err := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(u.Hostname()))
	if err != nil {
		return false
	}
	want, err := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(strings.TrimPrefix(site, ".")))
	if err != nil {
		return false
	}
	return host == want
}

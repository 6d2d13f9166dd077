package auth

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultCookieDomain is used for cookies that carry no domain.
const DefaultCookieDomain = ".kleinanzeigen.de"

// cookieAttributes are Set-Cookie attributes, never cookie names.
var cookieAttributes = map[string]bool{
	"path":        true,
	"domain":      true,
	"expires":     true,
	"max-age":     true,
	"secure":      true,
	"httponly":    true,
	"samesite":    true,
	"priority":    true,
	"partitioned": true,
	"sameparty":   true,
}

// jsonCookie is one entry of a browser cookie export.
type jsonCookie struct {
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	Domain         string   `json:"domain"`
	Path           string   `json:"path"`
	Secure         *bool    `json:"secure"`
	HTTPOnly       bool     `json:"httpOnly"`
	SameSite       string   `json:"sameSite"`
	Expires        any      `json:"expires"`
	ExpirationDate *float64 `json:"expirationDate"`
}

// ParseCookies reads a cookie blob. A JSON array of cookie objects is tried
// first; anything else is read line by line as name=value pairs separated by
// newlines or semicolons, with Set-Cookie attributes dropped. Netscape
// cookies.txt lines are understood as well. Cookies without a domain get
// defaultDomain (DefaultCookieDomain when empty), path defaults to "/" and
// secure is assumed unless a JSON entry says otherwise.
func ParseCookies(blob, defaultDomain string) []schemas.Cookie {
	if defaultDomain == "" {
		defaultDomain = DefaultCookieDomain
	}
	blob = strings.TrimSpace(strings.TrimPrefix(blob, "\ufeff"))
	if blob == "" {
		return nil
	}

	var cookies []schemas.Cookie
	if parsed, ok := parseJSONCookies(blob); ok {
		cookies = parsed
	} else {
		cookies = parseCookieLines(blob)
	}

	for i := range cookies {
		if cookies[i].Domain == "" {
			cookies[i].Domain = defaultDomain
		}
		if cookies[i].Path == "" {
			cookies[i].Path = "/"
		}
	}
	return dedupeCookies(cookies)
}

func parseJSONCookies(blob string) ([]schemas.Cookie, bool) {
	if !strings.HasPrefix(blob, "[") {
		return nil, false
	}
	var entries []jsonCookie
	if err := json.Unmarshal([]byte(blob), &entries); err != nil {
		return nil, false
	}
	cookies := make([]schemas.Cookie, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		if !validName(name) {
			continue
		}
		c := schemas.Cookie{
			Name:     name,
			Value:    e.Value,
			Domain:   strings.TrimSpace(e.Domain),
			Path:     strings.TrimSpace(e.Path),
			Secure:   e.Secure == nil || *e.Secure,
			HTTPOnly: e.HTTPOnly,
			SameSite: e.SameSite,
			Expires:  expiryOf(e.Expires),
		}
		if c.Expires == nil && e.ExpirationDate != nil {
			c.Expires = unixExpiry(*e.ExpirationDate)
		}
		cookies = append(cookies, c)
	}
	return cookies, true
}

func parseCookieLines(blob string) []schemas.Cookie {
	var cookies []schemas.Cookie
	for _, line := range strings.Split(blob, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || (strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "#HttpOnly_")) {
			continue
		}
		if c, ok := parseNetscapeLine(line); ok {
			cookies = append(cookies, c)
			continue
		}
		for _, prefix := range []string{"Set-Cookie:", "Cookie:"} {
			if len(line) >= len(prefix) && strings.EqualFold(line[:len(prefix)], prefix) {
				line = strings.TrimSpace(line[len(prefix):])
				break
			}
		}
		for _, pair := range strings.Split(line, ";") {
			name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			name = strings.TrimSpace(name)
			if !ok || cookieAttributes[strings.ToLower(name)] || !validName(name) {
				continue
			}
			cookies = append(cookies, schemas.Cookie{Name: name, Value: strings.TrimSpace(value), Secure: true})
		}
	}
	return cookies
}

// parseNetscapeLine reads domain, flag, path, secure, expiry, name, value.
func parseNetscapeLine(line string) (schemas.Cookie, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) != 7 {
		return schemas.Cookie{}, false
	}
	domain, httpOnly := fields[0], false
	if rest, ok := strings.CutPrefix(domain, "#HttpOnly_"); ok {
		domain, httpOnly = rest, true
	}
	name := strings.TrimSpace(fields[5])
	if !validName(name) {
		return schemas.Cookie{}, false
	}
	c := schemas.Cookie{
		Name:     name,
		Value:    fields[6],
		Domain:   domain,
		Path:     fields[2],
		Secure:   strings.EqualFold(fields[3], "TRUE"),
		HTTPOnly: httpOnly,
	}
	if secs, err := strconv.ParseFloat(fields[4], 64); err == nil {
		c.Expires = unixExpiry(secs)
	}
	return c, true
}

func expiryOf(v any) *time.Time {
	switch x := v.(type) {
	case float64:
		return unixExpiry(x)
	case string:
		if secs, err := strconv.ParseFloat(x, 64); err == nil {
			return unixExpiry(secs)
		}
		if t, err := time.Parse(time.RFC3339, x); err == nil {
			return &t
		}
		if t, err := http.ParseTime(x); err == nil {
			return &t
		}
	}
	return nil
}

// unixExpiry converts seconds since the epoch. Zero and negative values mark
// session cookies.
func unixExpiry(secs float64) *time.Time {
	if secs <= 0 {
		return nil
	}
	t := time.Unix(int64(secs), 0).UTC()
	return &t
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, " \t\"{}[],;=()<>@:\\/?")
}

// dedupeCookies keeps the first position and the last value of each
// name, domain and path combination.
func dedupeCookies(in []schemas.Cookie) []schemas.Cookie {
	index := make(map[string]int, len(in))
	out := make([]schemas.Cookie, 0, len(in))
	for _, c := range in {
		key := c.Name + "\x00" + c.Domain + "\x00" + c.Path
		if i, ok := index[key]; ok {
			out[i] = c
			continue
		}
		index[key] = len(out)
		out = append(out, c)
	}
	return out
}

// Package category serves the marketplace category taxonomy. Trees are read
// from a snapshot cache, refreshed from the live category pages and, when no
// live source answers, replaced by a built-in static tree.
package category

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

// DefaultBaseURL is the site category URLs are built against.
const DefaultBaseURL = "https://www.kleinanzeigen.de"

var (
	nonSlug     = regexp.MustCompile(`[^a-z0-9]+`)
	numericID   = regexp.MustCompile(`^\d+$`)
	categoryRef = regexp.MustCompile(`/c(\d+)(?:/|$)`)
	trailingRef = regexp.MustCompile(`(\d+)(?:/|$)`)
)

// Slugify lowercases value, spells out "&" and collapses everything outside
// [a-z0-9] into single dashes.
func Slugify(value string) string {
	s := strings.ToLower(value)
	s = strings.ReplaceAll(s, "&", "and")
	s = nonSlug.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// BuildURL returns the category page for a numeric id, or "" for anything else.
func BuildURL(id string) string {
	return buildURL(DefaultBaseURL, id)
}

func buildURL(base, id string) string {
	if !numericID.MatchString(id) {
		return ""
	}
	return strings.TrimRight(base, "/") + "/s-kategorie/c" + id
}

// ExtractID pulls the numeric category id out of a category URL.
func ExtractID(u string) string {
	if u == "" {
		return ""
	}
	if m := categoryRef.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	if m := trailingRef.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	return ""
}

// IsNumericID reports whether id addresses a live category page.
func IsNumericID(id string) bool {
	return numericID.MatchString(id)
}

// Normalize converts a decoded JSON category list into nodes. Entries may
// use "label" for the name and may carry their id only inside the URL.
// Entries without a name or an id are dropped.
func Normalize(raw any) []schemas.CategoryNode {
	return normalize(DefaultBaseURL, raw)
}

func normalize(base string, raw any) []schemas.CategoryNode {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]schemas.CategoryNode, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := strings.TrimSpace(stringField(m, "name"))
		if name == "" {
			name = strings.TrimSpace(stringField(m, "label"))
		}
		u := stringField(m, "url")
		id := stringField(m, "id")
		if id == "" {
			id = ExtractID(u)
		}
		if id == "" {
			id = Slugify(name)
		}
		switch {
		case u == "":
			u = buildURL(base, id)
		case strings.HasPrefix(u, "/"):
			u = strings.TrimRight(base, "/") + u
		}
		if name == "" || id == "" {
			continue
		}
		out = append(out, schemas.CategoryNode{
			ID:       id,
			Name:     name,
			URL:      u,
			Children: normalize(base, m["children"]),
		})
	}
	return out
}

// stringField renders strings and JSON numbers; anything else is "".
func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

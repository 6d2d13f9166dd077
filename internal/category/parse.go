package category

import (
	"errors"
	"net/url"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errNoTree means a page loaded but carried no recognizable category list.
var errNoTree = errors.New("no category tree on page")

// stateGlobals are the hydration blobs a category page may embed, in the
// order they are tried.
var stateGlobals = []string{"__INITIAL_STATE__", "__PRELOADED_STATE__", "__NEXT_DATA__", "__NUXT__"}

// treeKeys name the arrays that hold a category list inside a state blob.
var treeKeys = []string{"categories", "categoryTree", "categoryHierarchy"}

// ParsePage extracts the category list of an HTML page. Embedded state wins
// over the navigation markup. pageURL resolves relative links.
func ParsePage(body, pageURL string) ([]schemas.CategoryNode, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	base := siteBase(pageURL)
	if raw := stateTree(doc); raw != nil {
		if nodes := normalize(base, raw); len(nodes) > 0 {
			return nodes, nil
		}
	}
	if nodes := domTree(doc, pageURL); len(nodes) > 0 {
		return nodes, nil
	}
	return nil, errNoTree
}

// -- Embedded state --

// stateTree scans every script for a known hydration global and returns the
// first category list found.
func stateTree(doc *html.Node) []any {
	scripts := map[string][]string{}
	walk(doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Script {
			return true
		}
		text := textOf(n)
		id := attr(n, "id")
		for _, name := range stateGlobals {
			var blob string
			switch {
			case id == name:
				blob = text
			case strings.Contains(text, name):
				blob = assignedValue(text, name)
			}
			if blob == "" {
				continue
			}
			scripts[name] = append(scripts[name], blob)
		}
		return false
	})

	for _, name := range stateGlobals {
		for _, blob := range scripts[name] {
			var v any
			if err := json.NewDecoder(strings.NewReader(blob)).Decode(&v); err != nil {
				continue
			}
			if found := findTree(v); found != nil {
				return found
			}
		}
	}
	return nil
}

// assignedValue returns the text after "name =" up to the end of the script.
// The JSON decoder stops after the first value, so trailing statements are
// harmless.
func assignedValue(script, name string) string {
	i := strings.Index(script, name)
	if i < 0 {
		return ""
	}
	rest := script[i+len(name):]
	rest = strings.TrimLeft(rest, " \t\r\n\"']")
	if !strings.HasPrefix(rest, "=") {
		return ""
	}
	return strings.TrimSpace(rest[1:])
}

// findTree searches v depth-first for the first array stored under one of
// treeKeys. Object keys are visited in sorted order so results are stable.
func findTree(v any) []any {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if found := findTree(item); found != nil {
				return found
			}
		}
	case map[string]any:
		for _, key := range treeKeys {
			if list, ok := t[key].([]any); ok {
				return list
			}
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if found := findTree(t[k]); found != nil {
				return found
			}
		}
	}
	return nil
}

// -- Navigation markup --

// domTree picks the list with the most links among those linking to a
// category and reads it recursively.
func domTree(doc *html.Node, pageURL string) []schemas.CategoryNode {
	var best *html.Node
	bestLinks := 0
	walk(doc, func(n *html.Node) bool {
		if n.DataAtom == atom.Ul && firstLink(n) != nil {
			if count := countLinks(n); count > bestLinks {
				best, bestLinks = n, count
			}
		}
		return true
	})
	if best == nil {
		return nil
	}
	return parseList(best, pageURL)
}

func parseList(list *html.Node, pageURL string) []schemas.CategoryNode {
	var out []schemas.CategoryNode
	for li := list.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		link := firstLink(li)
		if link == nil {
			continue
		}
		u := resolve(pageURL, attr(link, "href"))
		node := schemas.CategoryNode{
			ID:   ExtractID(u),
			Name: strings.TrimSpace(textOf(link)),
			URL:  u,
		}
		if node.ID == "" || node.Name == "" || !categoryRef.MatchString(u) {
			continue
		}
		if sub := first(li, atom.Ul); sub != nil {
			node.Children = parseList(sub, pageURL)
		}
		out = append(out, node)
	}
	return out
}

// firstLink finds the first descendant anchor pointing at a category.
func firstLink(n *html.Node) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if c.DataAtom == atom.A && strings.Contains(attr(c, "href"), "/c") {
			found = c
			return false
		}
		return true
	})
	return found
}

func countLinks(n *html.Node) int {
	count := 0
	walk(n, func(c *html.Node) bool {
		if c.DataAtom == atom.A {
			count++
		}
		return true
	})
	return count
}

// first returns the first descendant element of n with the given tag.
func first(n *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if c != n && c.DataAtom == a {
			found = c
			return false
		}
		return true
	})
	return found
}

// -- Helpers --

// walk visits element nodes depth-first. fn returns false to skip children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if n.Type == html.ElementNode && !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return b.String()
}

func resolve(pageURL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil || pageURL == "" {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// siteBase reduces a page URL to scheme and host.
func siteBase(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return DefaultBaseURL
	}
	return u.Scheme + "://" + u.Host
}

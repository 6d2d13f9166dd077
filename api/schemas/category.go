package schemas

import "time"

// CategoryNode is one node of the marketplace taxonomy. An empty Children
// slice may mean the level has not been fetched yet.
type CategoryNode struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	URL      string         `json:"url,omitempty"`
	Children []CategoryNode `json:"children,omitempty"`
}

// CategoryTree is the payload served to callers, stamped for cache display.
type CategoryTree struct {
	UpdatedAt  time.Time      `json:"updatedAt"`
	Categories []CategoryNode `json:"categories"`
	// Source is "cache", "live" or "fallback".
	Source string `json:"source,omitempty"`
}

// Find returns the node whose ID or URL equals key, searching depth-first.
func Find(nodes []CategoryNode, key string) (*CategoryNode, bool) {
	for i := range nodes {
		if nodes[i].ID == key || (nodes[i].URL != "" && nodes[i].URL == key) {
			return &nodes[i], true
		}
		if n, ok := Find(nodes[i].Children, key); ok {
			return n, true
		}
	}
	return nil, false
}

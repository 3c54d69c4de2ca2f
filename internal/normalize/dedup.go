package normalize

import "strings"

// Guard remembers the titles accepted during one partition pass.
// It is owned by a single driver and is not safe for concurrent use.
type Guard struct {
	seen map[string]struct{}
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{seen: make(map[string]struct{})}
}

// Seen reports whether title was already accepted.
func (g *Guard) Seen(title string) bool {
	_, ok := g.seen[CleanTitle(title)]
	return ok
}

// Add registers title.
func (g *Guard) Add(title string) {
	g.seen[CleanTitle(title)] = struct{}{}
}

// Len is the number of distinct titles registered.
func (g *Guard) Len() int {
	return len(g.seen)
}

// CleanTitle strips line breaks and surrounding whitespace.
func CleanTitle(title string) string {
	title = strings.NewReplacer("\r\n", "", "\n", "", "\r", "").Replace(title)
	return strings.TrimSpace(title)
}

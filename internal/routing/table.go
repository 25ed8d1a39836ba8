// Package routing holds the gateway's static route table: which backend
// serves which path prefix, and how the path is rewritten on the way there.
package routing

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jamesprial/storegate/config"
)

var (
	// ErrInvalidRoute indicates a route entry that cannot be served.
	ErrInvalidRoute = errors.New("invalid route")

	// ErrNoRoute indicates that no entry's prefix matches the path.
	ErrNoRoute = errors.New("no matching route")
)

// Entry is one row of the route table. Entries are immutable once built.
type Entry struct {
	Name          string
	Prefix        string
	Target        *url.URL
	RewritePrefix string
}

// Matches reports whether the entry's prefix is a literal prefix of path.
func (e *Entry) Matches(path string) bool {
	return strings.HasPrefix(path, e.Prefix)
}

// Rewrite strips the entry prefix from path and prepends the rewrite prefix.
// The result always starts with "/".
func (e *Entry) Rewrite(path string) string {
	rest := strings.TrimPrefix(path, e.Prefix)
	out := strings.TrimSuffix(e.RewritePrefix, "/") + ensureLeadingSlash(rest)
	return ensureLeadingSlash(out)
}

func ensureLeadingSlash(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

// Table is the insertion-ordered list of entries consulted once per request.
// It is never mutated after NewTable returns and is safe for concurrent reads.
type Table struct {
	entries []*Entry
}

// NewTable validates the configured routes and builds the table.
func NewTable(routes []config.RouteConfig) (*Table, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: no routes configured", ErrInvalidRoute)
	}

	t := &Table{entries: make([]*Entry, 0, len(routes))}
	seen := make(map[string]struct{}, len(routes))

	for i, r := range routes {
		entry, err := newEntry(r)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		if _, dup := seen[entry.Prefix]; dup {
			return nil, fmt.Errorf("route %d: %w: duplicate prefix %q", i, ErrInvalidRoute, entry.Prefix)
		}
		seen[entry.Prefix] = struct{}{}
		t.entries = append(t.entries, entry)
	}

	return t, nil
}

func newEntry(r config.RouteConfig) (*Entry, error) {
	if r.Prefix == "" || !strings.HasPrefix(r.Prefix, "/") {
		return nil, fmt.Errorf("%w: prefix %q must start with /", ErrInvalidRoute, r.Prefix)
	}
	host := strings.TrimSpace(r.TargetHost)
	if host == "" {
		return nil, fmt.Errorf("%w: %s: missing target host", ErrInvalidRoute, r.Prefix)
	}
	if r.TargetPort < 1 || r.TargetPort > 65535 {
		return nil, fmt.Errorf("%w: %s: target port %d out of range", ErrInvalidRoute, r.Prefix, r.TargetPort)
	}
	if r.RewritePrefix != "" && !strings.HasPrefix(r.RewritePrefix, "/") {
		return nil, fmt.Errorf("%w: %s: rewrite prefix %q must start with /", ErrInvalidRoute, r.Prefix, r.RewritePrefix)
	}

	target := &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(host, strconv.Itoa(r.TargetPort)),
	}

	name := r.Name
	if name == "" {
		name = strings.Trim(r.Prefix, "/")
	}

	return &Entry{
		Name:          name,
		Prefix:        r.Prefix,
		Target:        target,
		RewritePrefix: r.RewritePrefix,
	}, nil
}

// Match returns the first entry, in table order, whose prefix matches path.
func (t *Table) Match(path string) (*Entry, bool) {
	for _, e := range t.entries {
		if e.Matches(path) {
			return e, true
		}
	}
	return nil, false
}

// Route is Match with an error for the no-match case.
func (t *Table) Route(path string) (*Entry, error) {
	if e, ok := t.Match(path); ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoRoute, path)
}

// Covers reports whether any entry serves path.
func (t *Table) Covers(path string) bool {
	_, ok := t.Match(path)
	return ok
}

// Entries returns a copy of the entries in table order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
		target := *e.Target
		out[i].Target = &target
	}
	return out
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

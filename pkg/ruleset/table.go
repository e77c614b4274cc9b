package ruleset

import (
	"bytes"
	"errors"
	"strings"
)

// CommitMarker terminates the editable rule region of a table.
const CommitMarker = "COMMIT"

// ErrNoMarker is returned when a table has lost its commit marker.
var ErrNoMarker = errors.New("commit marker not found")

// Table is the in-memory working copy of one persisted rule file. Lines that
// are not rules (headers, chain policies, comments) are kept verbatim.
type Table struct {
	name            string
	lines           []string
	trailingNewline bool
}

// NewTable returns an empty table containing only its header and marker.
func NewTable(name string) *Table {
	return &Table{
		name:            name,
		lines:           []string{"*" + name, CommitMarker},
		trailingNewline: true,
	}
}

// Parse builds a Table from file content.
func Parse(name string, data []byte) *Table {
	t := &Table{name: name}
	if len(data) == 0 {
		return t
	}
	text := string(data)
	if strings.HasSuffix(text, "\n") {
		t.trailingNewline = true
		text = strings.TrimSuffix(text, "\n")
	}
	t.lines = strings.Split(text, "\n")
	return t
}

// Name returns the iptables table name.
func (t *Table) Name() string {
	return t.name
}

// Bytes renders the table back to file content.
func (t *Table) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(t.lines, "\n"))
	if t.trailingNewline && len(t.lines) > 0 {
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Lines returns a copy of the table's lines.
func (t *Table) Lines() []string {
	return append([]string(nil), t.lines...)
}

// Rules returns every parseable rule in file order.
func (t *Table) Rules() []Rule {
	var rules []Rule
	for _, line := range t.lines {
		rule, err := ParseRule(t.name, line)
		if err != nil {
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

// Tagged returns the rules carrying tag, in file order.
func (t *Table) Tagged(tag string) []Rule {
	var rules []Rule
	for _, rule := range t.Rules() {
		if rule.Tag() == tag {
			rules = append(rules, rule)
		}
	}
	return rules
}

// HasTag reports whether any rule carries tag.
func (t *Table) HasTag(tag string) bool {
	return len(t.Tagged(tag)) > 0
}

// InsertBeforeMarker inserts lines immediately before the last commit marker.
func (t *Table) InsertBeforeMarker(lines ...string) error {
	idx := t.markerIndex()
	if idx < 0 {
		return ErrNoMarker
	}
	updated := make([]string, 0, len(t.lines)+len(lines))
	updated = append(updated, t.lines[:idx]...)
	updated = append(updated, lines...)
	updated = append(updated, t.lines[idx:]...)
	t.lines = updated
	return nil
}

// DeleteTagged removes every rule line carrying tag and returns how many were removed.
func (t *Table) DeleteTagged(tag string) int {
	kept := t.lines[:0:0]
	removed := 0
	for _, line := range t.lines {
		if rule, err := ParseRule(t.name, line); err == nil && rule.Tag() == tag {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	t.lines = kept
	return removed
}

// HostAddresses returns the distinct host addresses that port-mapping DNAT
// rules are anchored to, in order of first appearance. Rules not owned by a
// mapping are ignored.
func (t *Table) HostAddresses() []string {
	seen := make(map[string]bool)
	var addrs []string
	for _, rule := range t.Rules() {
		if !rule.IsProxyDNAT() {
			continue
		}
		addr, ok := rule.HostAddress()
		if !ok || seen[addr] {
			continue
		}
		seen[addr] = true
		addrs = append(addrs, addr)
	}
	return addrs
}

// RewriteAddress replaces every whole-token occurrence of oldAddr (bare, with
// a /32 suffix, or with a :port suffix) by newAddr in port-mapping DNAT rules.
// Only the matching tokens change; other lines and the rest of a changed line
// stay byte-identical. It returns the number of lines changed.
func (t *Table) RewriteAddress(oldAddr, newAddr string) int {
	changed := 0
	for i, line := range t.lines {
		rule, err := ParseRule(t.name, line)
		if err != nil || !rule.IsProxyDNAT() {
			continue
		}
		if rewritten, hit := rewriteLine(line, oldAddr, newAddr); hit {
			t.lines[i] = rewritten
			changed++
		}
	}
	return changed
}

// rewriteLine rewrites matching whitespace-separated tokens of line in place.
func rewriteLine(line, oldAddr, newAddr string) (string, bool) {
	var b strings.Builder
	hit := false
	last := 0
	for start := 0; start < len(line); {
		if isSpace(line[start]) {
			start++
			continue
		}
		end := start
		for end < len(line) && !isSpace(line[end]) {
			end++
		}
		if rewritten, ok := rewriteToken(line[start:end], oldAddr, newAddr); ok {
			b.WriteString(line[last:start])
			b.WriteString(rewritten)
			last = end
			hit = true
		}
		start = end
	}
	if !hit {
		return line, false
	}
	b.WriteString(line[last:])
	return b.String(), true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\v' || c == '\f'
}

func rewriteToken(token, oldAddr, newAddr string) (string, bool) {
	if token == oldAddr {
		return newAddr, true
	}
	rest, ok := strings.CutPrefix(token, oldAddr)
	if !ok {
		return token, false
	}
	if strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, ":") {
		return newAddr + rest, true
	}
	return token, false
}

func (t *Table) markerIndex() int {
	for i := len(t.lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(t.lines[i]) == CommitMarker {
			return i
		}
	}
	return -1
}

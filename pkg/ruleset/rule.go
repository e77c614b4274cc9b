package ruleset

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

const (
	FilterTable = "filter"
	NatTable    = "nat"

	// CommentFlag carries the tag that identifies which proxy port owns a rule.
	CommentFlag = "--comment"
)

// ErrNotRule is returned by ParseRule for lines that are not rule lines.
var ErrNotRule = errors.New("not a rule line")

// Rule is a single iptables rule: a table, a chain and the match/target spec.
type Rule struct {
	Table string
	Chain string
	Spec  []string
}

// ParseRule parses an iptables-save style line ("-A CHAIN spec...").
func ParseRule(table, line string) (Rule, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "-A ") && !strings.HasPrefix(trimmed, "-I ") {
		return Rule{}, ErrNotRule
	}

	args, err := shellwords.Parse(trimmed)
	if err != nil {
		return Rule{}, fmt.Errorf("failed to split rule line %q: %w", line, err)
	}
	if len(args) < 2 {
		return Rule{}, fmt.Errorf("rule line %q has no chain", line)
	}

	spec := args[2:]
	// "-I CHAIN 1 ..." carries a position we do not persist.
	if args[0] == "-I" && len(spec) > 0 {
		if _, err := strconv.Atoi(spec[0]); err == nil {
			spec = spec[1:]
		}
	}

	return Rule{Table: table, Chain: args[1], Spec: spec}, nil
}

// Line renders the rule as it is persisted in a rule file.
func (r Rule) Line() string {
	parts := make([]string, 0, len(r.Spec)+2)
	parts = append(parts, "-A", r.Chain)
	for _, arg := range r.Spec {
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

// Value returns the argument following flag in the spec, or "".
func (r Rule) Value(flag string) string {
	for i := 0; i < len(r.Spec)-1; i++ {
		if r.Spec[i] == flag {
			return r.Spec[i+1]
		}
	}
	return ""
}

// Tag returns the rule's comment.
func (r Rule) Tag() string {
	return r.Value(CommentFlag)
}

// IsProxyDNAT reports whether the rule is a port mapping's nat rule: a DNAT
// target tagged with a numeric comment.
func (r Rule) IsProxyDNAT() bool {
	tag := r.Tag()
	if tag == "" || strings.TrimLeft(tag, "0123456789") != "" {
		return false
	}
	return r.Value("-j") == "DNAT"
}

// HostAddress returns the single-host "-d" address of the rule without its
// /32 suffix. Subnets and non-IPv4 values are not host addresses.
func (r Rule) HostAddress() (string, bool) {
	addr := strings.TrimSuffix(r.Value("-d"), "/32")
	if ip := net.ParseIP(addr); ip == nil || ip.To4() == nil || strings.Contains(addr, ":") {
		return "", false
	}
	return addr, true
}

func (r Rule) String() string {
	return r.Table + ": " + r.Line()
}

func quoteArg(arg string) string {
	if arg == "" || strings.ContainsAny(arg, " \t\"'\\") {
		return strconv.Quote(arg)
	}
	return arg
}

package proxy

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/alexey-f/origin-server/pkg/ruleset"
)

const (
	MinProxyPort = 16384
	MaxProxyPort = 65535
)

// Mapping forwards ProxyPort on the host address to TargetIP:TargetPort.
type Mapping struct {
	ProxyPort  int
	TargetIP   net.IP
	TargetPort int
}

// Tag is the rule comment identifying the mapping's rules.
func (m Mapping) Tag() string {
	return strconv.Itoa(m.ProxyPort)
}

// Target renders the destination as ip:port.
func (m Mapping) Target() string {
	return m.TargetIP.String() + ":" + strconv.Itoa(m.TargetPort)
}

// FilterRules returns the inbound and outbound accept rules.
func (m Mapping) FilterRules() []ruleset.Rule {
	spec := []string{
		"-d", m.TargetIP.String() + "/32",
		"-p", "tcp", "-m", "tcp", "--dport", strconv.Itoa(m.TargetPort),
		"-m", "comment", ruleset.CommentFlag, m.Tag(),
		"-j", "ACCEPT",
	}
	return []ruleset.Rule{
		{Table: ruleset.FilterTable, Chain: "INPUT", Spec: spec},
		{Table: ruleset.FilterTable, Chain: "OUTPUT", Spec: append([]string(nil), spec...)},
	}
}

// NatRules returns the PREROUTING and OUTPUT DNAT rules anchored to host.
func (m Mapping) NatRules(host net.IP) []ruleset.Rule {
	spec := []string{
		"-d", host.String() + "/32",
		"-p", "tcp", "-m", "tcp", "--dport", m.Tag(),
		"-m", "comment", ruleset.CommentFlag, m.Tag(),
		"-j", "DNAT", "--to-destination", m.Target(),
	}
	return []ruleset.Rule{
		{Table: ruleset.NatTable, Chain: "PREROUTING", Spec: spec},
		{Table: ruleset.NatTable, Chain: "OUTPUT", Spec: append([]string(nil), spec...)},
	}
}

// ParseProxyPort validates a listening port argument.
func ParseProxyPort(value string) (int, error) {
	port, ok := parseDecimal(value)
	if !ok {
		return 0, &ValidationError{Field: "proxy port", Value: value, Cause: "not a number"}
	}
	if port < MinProxyPort || port > MaxProxyPort {
		return 0, &ValidationError{
			Field: "proxy port",
			Value: value,
			Cause: fmt.Sprintf("must be between %d and %d", MinProxyPort, MaxProxyPort),
		}
	}
	return port, nil
}

// ParseMapping validates a proxy port and an ip:port target.
func ParseMapping(port, target string) (Mapping, error) {
	proxyPort, err := ParseProxyPort(port)
	if err != nil {
		return Mapping{}, err
	}

	host, targetPort, ok := strings.Cut(target, ":")
	if !ok {
		return Mapping{}, &ValidationError{Field: "target", Value: target, Cause: "expected ip:port"}
	}
	ip, err := parseIPv4(host)
	if err != nil {
		return Mapping{}, &ValidationError{Field: "target address", Value: host, Cause: err.Error()}
	}

	tport, ok := parseDecimal(targetPort)
	if !ok {
		return Mapping{}, &ValidationError{Field: "target port", Value: targetPort, Cause: "not a number"}
	}
	if tport < 1 || tport > 65535 {
		return Mapping{}, &ValidationError{Field: "target port", Value: targetPort, Cause: "must be between 1 and 65535"}
	}

	return Mapping{ProxyPort: proxyPort, TargetIP: ip, TargetPort: tport}, nil
}

// parseDecimal accepts only unsigned decimal digits, at most five of them.
func parseDecimal(value string) (int, bool) {
	if value == "" || len(value) > 5 || strings.TrimLeft(value, "0123456789") != "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	return n, err == nil
}

// parseIPv4 accepts exactly four decimal octets in [0,255].
func parseIPv4(value string) (net.IP, error) {
	octets := strings.Split(value, ".")
	if len(octets) != 4 {
		return nil, errors.New("expected four dot-separated octets")
	}
	ip := make(net.IP, net.IPv4len)
	for i, octet := range octets {
		if octet == "" || len(octet) > 3 || strings.TrimLeft(octet, "0123456789") != "" {
			return nil, fmt.Errorf("octet %d is not a number", i+1)
		}
		n, _ := strconv.Atoi(octet)
		if n > 255 {
			return nil, fmt.Errorf("octet %d is out of range 0-255", i+1)
		}
		ip[i] = byte(n)
	}
	return ip, nil
}

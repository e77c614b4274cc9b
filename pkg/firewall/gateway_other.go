//go:build !linux

package firewall

import "go.uber.org/zap"

// NewGateway returns an in-memory Gateway on systems without iptables,
// for development and testing on macOS.
func NewGateway(logger *zap.Logger) (Gateway, error) {
	return NewFakeGateway(logger), nil
}

//go:build linux

package firewall

import (
	"fmt"

	"github.com/alexey-f/origin-server/pkg/ruleset"
	"github.com/coreos/go-iptables/iptables"
	"go.uber.org/zap"
)

// iptablesGateway manages live rules with coreos/go-iptables.
type iptablesGateway struct {
	ipt    *iptables.IPTables
	logger *zap.Logger
}

// NewGateway creates a Gateway backed by the host's iptables.
func NewGateway(logger *zap.Logger) (Gateway, error) {
	ipt, err := iptables.New(iptables.IPFamily(iptables.ProtocolIPv4))
	if err != nil {
		return nil, fmt.Errorf("failed to create iptables handle: %w", err)
	}
	return &iptablesGateway{ipt: ipt, logger: logger}, nil
}

// Apply inserts rule at the head of its chain unless an identical rule exists.
func (g *iptablesGateway) Apply(rule ruleset.Rule) error {
	exists, err := g.ipt.Exists(rule.Table, rule.Chain, rule.Spec...)
	if err != nil {
		return fmt.Errorf("failed to check rule %s: %w", rule, err)
	}
	if exists {
		g.logger.Info("rule already present", zap.String("table", rule.Table), zap.String("rule", rule.Line()))
		return nil
	}
	if err := g.ipt.Insert(rule.Table, rule.Chain, 1, rule.Spec...); err != nil {
		return fmt.Errorf("failed to insert rule %s: %w", rule, err)
	}
	g.logger.Info("inserted rule", zap.String("table", rule.Table), zap.String("rule", rule.Line()))
	return nil
}

// Revoke deletes rule if it is present.
func (g *iptablesGateway) Revoke(rule ruleset.Rule) error {
	if err := g.ipt.DeleteIfExists(rule.Table, rule.Chain, rule.Spec...); err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", rule, err)
	}
	g.logger.Info("deleted rule", zap.String("table", rule.Table), zap.String("rule", rule.Line()))
	return nil
}

package firewall

import (
	"errors"
	"testing"

	"github.com/alexey-f/origin-server/pkg/ruleset"
	"go.uber.org/zap"
)

func testRule(port string) ruleset.Rule {
	return ruleset.Rule{
		Table: ruleset.FilterTable,
		Chain: "INPUT",
		Spec:  []string{"-p", "tcp", "--dport", port, "-m", "comment", "--comment", port, "-j", "ACCEPT"},
	}
}

func TestFakeGateway_ApplyIsIdempotent(t *testing.T) {
	gw := NewFakeGateway(zap.NewNop())
	rule := testRule("20000")

	for i := 0; i < 2; i++ {
		if err := gw.Apply(rule); err != nil {
			t.Fatalf("Apply #%d failed: %v", i+1, err)
		}
	}

	if len(gw.Rules()) != 1 {
		t.Fatalf("expected 1 live rule, got %d", len(gw.Rules()))
	}
	if !gw.Has(rule) {
		t.Error("expected rule to be live")
	}
	if len(gw.Calls()) != 2 {
		t.Errorf("expected 2 recorded calls, got %d", len(gw.Calls()))
	}
}

func TestFakeGateway_RevokeAbsentSucceeds(t *testing.T) {
	gw := NewFakeGateway(zap.NewNop())
	if err := gw.Revoke(testRule("20000")); err != nil {
		t.Fatalf("Revoke of absent rule failed: %v", err)
	}
}

func TestFakeGateway_ApplyThenRevoke(t *testing.T) {
	gw := NewFakeGateway(zap.NewNop())
	rule := testRule("20000")
	other := testRule("20001")

	gw.Apply(rule)
	gw.Apply(other)
	if err := gw.Revoke(rule); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	if gw.Has(rule) {
		t.Error("expected revoked rule to be gone")
	}
	if !gw.Has(other) {
		t.Error("expected other rule to remain")
	}
}

func TestFakeGateway_ReparsedRuleMatches(t *testing.T) {
	gw := NewFakeGateway(zap.NewNop())
	rule := testRule("20000")
	gw.Seed(rule)

	reparsed, err := ruleset.ParseRule(ruleset.FilterTable, rule.Line())
	if err != nil {
		t.Fatalf("ParseRule failed: %v", err)
	}
	if !gw.Has(reparsed) {
		t.Error("expected a rule re-read from its persisted line to match the live rule")
	}
	if len(gw.Calls()) != 0 {
		t.Errorf("Seed must not record calls, got %d", len(gw.Calls()))
	}
}

func TestFakeGateway_FailOn(t *testing.T) {
	gw := NewFakeGateway(zap.NewNop())
	boom := errors.New("iptables: Resource temporarily unavailable")
	gw.FailOn = func(op string, rule ruleset.Rule) error {
		if op == "apply" {
			return boom
		}
		return nil
	}

	if err := gw.Apply(testRule("20000")); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if len(gw.Rules()) != 0 {
		t.Errorf("failed apply must not change state, got %d rules", len(gw.Rules()))
	}
}

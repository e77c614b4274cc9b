package firewall

import (
	"sync"

	"github.com/alexey-f/origin-server/pkg/ruleset"
	"go.uber.org/zap"
)

// Call records one Gateway invocation.
type Call struct {
	Op   string // "apply" or "revoke"
	Rule ruleset.Rule
}

// FakeGateway is an in-memory Gateway that records every call.
type FakeGateway struct {
	mu     sync.Mutex
	rules  map[string]ruleset.Rule
	calls  []Call
	logger *zap.Logger

	// FailOn, when set, is consulted before each call; a non-nil error is
	// returned without changing state.
	FailOn func(op string, rule ruleset.Rule) error
}

// NewFakeGateway creates an empty FakeGateway.
func NewFakeGateway(logger *zap.Logger) *FakeGateway {
	return &FakeGateway{
		rules:  make(map[string]ruleset.Rule),
		logger: logger,
	}
}

func fakeKey(rule ruleset.Rule) string {
	return rule.Table + "|" + rule.Line()
}

func (g *FakeGateway) Apply(rule ruleset.Rule) error {
	return g.do("apply", rule)
}

func (g *FakeGateway) Revoke(rule ruleset.Rule) error {
	return g.do("revoke", rule)
}

func (g *FakeGateway) do(op string, rule ruleset.Rule) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, Call{Op: op, Rule: rule})
	if g.FailOn != nil {
		if err := g.FailOn(op, rule); err != nil {
			return err
		}
	}

	key := fakeKey(rule)
	switch op {
	case "apply":
		if _, exists := g.rules[key]; exists {
			g.logger.Debug("fake: rule already present", zap.String("rule", key))
			return nil
		}
		g.rules[key] = rule
		g.logger.Debug("fake: inserted rule", zap.String("rule", key))
	case "revoke":
		delete(g.rules, key)
		g.logger.Debug("fake: deleted rule", zap.String("rule", key))
	}
	return nil
}

// Has reports whether rule is currently live.
func (g *FakeGateway) Has(rule ruleset.Rule) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, exists := g.rules[fakeKey(rule)]
	return exists
}

// Rules returns a copy of the live rules.
func (g *FakeGateway) Rules() []ruleset.Rule {
	g.mu.Lock()
	defer g.mu.Unlock()

	result := make([]ruleset.Rule, 0, len(g.rules))
	for _, rule := range g.rules {
		result = append(result, rule)
	}
	return result
}

// Calls returns a copy of the recorded calls in order.
func (g *FakeGateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// Seed marks rules as live without recording calls.
func (g *FakeGateway) Seed(rules ...ruleset.Rule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, rule := range rules {
		g.rules[fakeKey(rule)] = rule
	}
}

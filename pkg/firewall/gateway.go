package firewall

import "github.com/alexey-f/origin-server/pkg/ruleset"

// Gateway applies rules to the live kernel ruleset.
//
// Apply is idempotent: a rule that is already present is left alone and no
// error is returned. Revoke of an absent rule also succeeds. Together they
// make a retried add or remove converge instead of failing.
type Gateway interface {
	Apply(rule ruleset.Rule) error
	Revoke(rule ruleset.Rule) error
}

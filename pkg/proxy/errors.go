package proxy

import "fmt"

// ValidationError rejects a malformed port or address. Nothing has been
// changed when it is returned.
type ValidationError struct {
	Field string
	Value string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Cause)
}

// PersistError reports a failed rule file edit. The live ruleset may now
// disagree with the file and needs operator attention.
type PersistError struct {
	Table string
	Path  string
	Err   error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist %s rules to %s (live firewall may differ from file): %v", e.Table, e.Path, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// FirewallApplyError reports a rule the live firewall rejected.
type FirewallApplyError struct {
	Op   string
	Rule string
	Err  error
}

func (e *FirewallApplyError) Error() string {
	return fmt.Sprintf("failed to %s live rule %q: %v", e.Op, e.Rule, e.Err)
}

func (e *FirewallApplyError) Unwrap() error {
	return e.Err
}

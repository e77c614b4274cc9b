package proxy

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alexey-f/origin-server/pkg/address"
	"github.com/alexey-f/origin-server/pkg/atomicfile"
	"github.com/alexey-f/origin-server/pkg/config"
	"github.com/alexey-f/origin-server/pkg/firewall"
	"github.com/alexey-f/origin-server/pkg/lock"
	"github.com/alexey-f/origin-server/pkg/ruleset"
	"go.uber.org/zap"
)

// Controller keeps the live firewall and the persisted rule files in step.
//
// Every operation runs under the Locker. Changes are applied to the live
// firewall first and persisted afterwards; a crash in between is healed by
// repeating the same call, because presence is judged from the files and the
// Gateway tolerates re-applying a live rule.
type Controller struct {
	filter   *ruleset.File
	nat      *ruleset.File
	gateway  firewall.Gateway
	resolver address.Resolver
	locker   lock.Locker
	logger   *zap.Logger
}

// NewController wires a Controller to the host firewall, address discovery
// and the host-wide lock described by cfg.
func NewController(cfg *config.Config, logger *zap.Logger) (*Controller, error) {
	gateway, err := firewall.NewGateway(logger.Named("firewall"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firewall gateway: %w", err)
	}

	resolver, err := address.NewResolver(cfg.Interface, cfg.HostAddress, logger.Named("address"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize address resolver: %w", err)
	}

	locker := lock.NewFileLock(cfg.LockFile, logger.Named("lock"))
	return newControllerWith(cfg, gateway, resolver, locker, logger), nil
}

// newControllerWith builds a Controller from explicit collaborators.
// This allows tests to inject a fake gateway, static address and in-process lock.
func newControllerWith(cfg *config.Config, gateway firewall.Gateway, resolver address.Resolver, locker lock.Locker, logger *zap.Logger) *Controller {
	editor := atomicfile.NewEditor(logger.Named("atomicfile"))
	return &Controller{
		filter:   ruleset.NewFile(ruleset.FilterTable, cfg.Rules.Filter, editor),
		nat:      ruleset.NewFile(ruleset.NatTable, cfg.Rules.Nat, editor),
		gateway:  gateway,
		resolver: resolver,
		locker:   locker,
		logger:   logger.Named("proxy"),
	}
}

// AddProxy maps port to target ("ip:port").
func (c *Controller) AddProxy(port, target string) error {
	return c.AddProxies([]string{port, target})
}

// AddProxies applies each (port, target) pair in order under a single lock
// acquisition. A failing pair does not stop or undo the others.
func (c *Controller) AddProxies(args []string) error {
	if len(args) == 0 || len(args)%2 != 0 {
		return &ValidationError{
			Field: "arguments",
			Value: strings.Join(args, " "),
			Cause: "expected <port> <ip:port> pairs",
		}
	}

	return c.locker.WithLock(func() error {
		var addErrors []error
		for i := 0; i < len(args); i += 2 {
			if err := c.add(args[i], args[i+1]); err != nil {
				c.logger.Error("failed to add proxy",
					zap.String("port", args[i]),
					zap.String("target", args[i+1]),
					zap.Error(err),
				)
				addErrors = append(addErrors, fmt.Errorf("addproxy %s %s: %w", args[i], args[i+1], err))
			}
		}
		return errors.Join(addErrors...)
	})
}

func (c *Controller) add(port, target string) error {
	mapping, err := ParseMapping(port, target)
	if err != nil {
		return err
	}
	tag := mapping.Tag()

	filterTable, err := c.filter.Load()
	if err != nil {
		return err
	}
	natTable, err := c.nat.Load()
	if err != nil {
		return err
	}

	var filterRules, natRules []ruleset.Rule
	if existing := natTable.Tagged(tag); len(existing) > 0 {
		// Nothing is changed for a port that forwards elsewhere, not even its filter half.
		if dest := existing[0].Value("--to-destination"); dest != mapping.Target() {
			c.logger.Warn("port is already mapped to another target, remove it first",
				zap.String("port", tag),
				zap.String("current", dest),
				zap.String("requested", mapping.Target()),
			)
			return nil
		}
	} else {
		// Resolve before touching anything so a missing address mutates nothing.
		host, err := c.resolver.Resolve()
		if err != nil {
			return err
		}
		natRules = mapping.NatRules(host)
	}

	if filterTable.HasTag(tag) {
		c.logger.Debug("filter rules already present", zap.String("port", tag))
	} else {
		filterRules = mapping.FilterRules()
	}

	if len(filterRules) == 0 && len(natRules) == 0 {
		c.logger.Info("proxy already present", zap.String("port", tag))
		return nil
	}

	for _, rule := range append(append([]ruleset.Rule(nil), filterRules...), natRules...) {
		if err := c.gateway.Apply(rule); err != nil {
			return &FirewallApplyError{Op: "insert", Rule: rule.String(), Err: err}
		}
	}

	if len(filterRules) > 0 {
		if err := c.persist(c.filter, func(table *ruleset.Table) error {
			return table.InsertBeforeMarker(ruleLines(filterRules)...)
		}); err != nil {
			return err
		}
	}
	if len(natRules) > 0 {
		if err := c.persist(c.nat, func(table *ruleset.Table) error {
			return table.InsertBeforeMarker(ruleLines(natRules)...)
		}); err != nil {
			return err
		}
	}

	c.logger.Info("added proxy",
		zap.String("port", tag),
		zap.String("target", mapping.Target()),
		zap.Int("filter_rules", len(filterRules)),
		zap.Int("nat_rules", len(natRules)),
	)
	return nil
}

// RemoveProxy removes every rule tagged with port.
func (c *Controller) RemoveProxy(port string) error {
	return c.RemoveProxies([]string{port})
}

// RemoveProxies removes each port in order under a single lock acquisition.
// Removing a port without rules succeeds.
func (c *Controller) RemoveProxies(ports []string) error {
	if len(ports) == 0 {
		return &ValidationError{Field: "arguments", Value: "", Cause: "expected at least one port"}
	}

	return c.locker.WithLock(func() error {
		var removeErrors []error
		for _, port := range ports {
			if err := c.remove(port); err != nil {
				c.logger.Error("failed to remove proxy", zap.String("port", port), zap.Error(err))
				removeErrors = append(removeErrors, fmt.Errorf("removeproxy %s: %w", port, err))
			}
		}
		return errors.Join(removeErrors...)
	})
}

func (c *Controller) remove(port string) error {
	proxyPort, err := ParseProxyPort(port)
	if err != nil {
		return err
	}
	tag := strconv.Itoa(proxyPort)

	filterTable, err := c.filter.Load()
	if err != nil {
		return err
	}
	natTable, err := c.nat.Load()
	if err != nil {
		return err
	}

	filterRules := filterTable.Tagged(tag)
	natRules := natTable.Tagged(tag)
	if len(filterRules) == 0 && len(natRules) == 0 {
		c.logger.Info("no rules for proxy, nothing to remove", zap.String("port", tag))
		return nil
	}

	for _, rule := range append(append([]ruleset.Rule(nil), filterRules...), natRules...) {
		if err := c.gateway.Revoke(rule); err != nil {
			return &FirewallApplyError{Op: "delete", Rule: rule.String(), Err: err}
		}
	}

	deleteTagged := func(table *ruleset.Table) error {
		table.DeleteTagged(tag)
		return nil
	}
	if len(filterRules) > 0 {
		if err := c.persist(c.filter, deleteTagged); err != nil {
			return err
		}
	}
	if len(natRules) > 0 {
		if err := c.persist(c.nat, deleteTagged); err != nil {
			return err
		}
	}

	c.logger.Info("removed proxy",
		zap.String("port", tag),
		zap.Int("filter_rules", len(filterRules)),
		zap.Int("nat_rules", len(natRules)),
	)
	return nil
}

// ShowProxies writes "<port> <destination>" for each port that has a nat
// rule. Ports without one produce no output.
func (c *Controller) ShowProxies(w io.Writer, ports []string) error {
	return c.locker.WithLock(func() error {
		natTable, err := c.nat.Load()
		if err != nil {
			return err
		}

		var showErrors []error
		for _, port := range ports {
			proxyPort, err := ParseProxyPort(port)
			if err != nil {
				showErrors = append(showErrors, fmt.Errorf("showproxy %s: %w", port, err))
				continue
			}
			tag := strconv.Itoa(proxyPort)

			rules := natTable.Tagged(tag)
			if len(rules) == 0 {
				continue
			}
			if _, err := fmt.Fprintf(w, "%s %s\n", tag, rules[0].Value("--to-destination")); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
		}
		return errors.Join(showErrors...)
	})
}

// FixAddr rewrites every nat rule address that differs from the current host
// address. Only the persisted file changes; the live ruleset is reloaded from
// it by the boot-time replay.
func (c *Controller) FixAddr() error {
	return c.locker.WithLock(func() error {
		host, err := c.resolver.Resolve()
		if err != nil {
			return err
		}
		current := host.String()

		natTable, err := c.nat.Load()
		if err != nil {
			return err
		}

		var stale []string
		for _, addr := range natTable.HostAddresses() {
			if addr != current {
				stale = append(stale, addr)
			}
		}
		if len(stale) == 0 {
			c.logger.Info("nat rules already use the host address", zap.String("address", current))
			return nil
		}

		return c.persist(c.nat, func(table *ruleset.Table) error {
			for _, addr := range stale {
				changed := table.RewriteAddress(addr, current)
				c.logger.Info("rewrote stale address",
					zap.String("old", addr),
					zap.String("new", current),
					zap.Int("lines", changed),
				)
			}
			return nil
		})
	})
}

func (c *Controller) persist(file *ruleset.File, fn func(*ruleset.Table) error) error {
	if err := file.Update(fn); err != nil {
		return &PersistError{Table: file.Name, Path: file.Path, Err: err}
	}
	return nil
}

func ruleLines(rules []ruleset.Rule) []string {
	lines := make([]string, len(rules))
	for i, rule := range rules {
		lines[i] = rule.Line()
	}
	return lines
}

//go:build integration

package e2e

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coreos/go-iptables/iptables"
)

// testHostAddress pins the nat rule address so tests do not depend on the host's routes.
const testHostAddress = "10.254.0.1"

// env is one isolated set of rule files, lock file and config for the binary.
type env struct {
	dir        string
	configPath string
	filterPath string
	natPath    string
}

func newEnv(t *testing.T, hostAddress string) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{
		dir:        dir,
		configPath: filepath.Join(dir, "portproxy.yaml"),
		filterPath: filepath.Join(dir, "iptables.filter.rules"),
		natPath:    filepath.Join(dir, "iptables.nat.rules"),
	}
	e.writeConfig(t, hostAddress)
	return e
}

func (e *env) writeConfig(t *testing.T, hostAddress string) {
	t.Helper()
	content := "global:\n  log_level: debug\n" +
		"host_address: " + hostAddress + "\n" +
		"rules:\n" +
		"  filter: " + e.filterPath + "\n" +
		"  nat: " + e.natPath + "\n" +
		"lock_file: " + filepath.Join(e.dir, "portproxy.lock") + "\n"
	if err := os.WriteFile(e.configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
}

// run executes the binary with the env config and returns stdout, stderr and the error.
func (e *env) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(portproxyBinary, append([]string{"-c", e.configPath}, args...)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// mustRun executes the binary and asserts a successful exit. Returns stdout.
func (e *env) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	stdout, stderr, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("portproxy %s failed: %v\nstdout: %s\nstderr: %s", strings.Join(args, " "), err, stdout, stderr)
	}
	return stdout
}

// mustFail executes the binary and asserts a non-zero exit. Returns stderr.
func (e *env) mustFail(t *testing.T, args ...string) string {
	t.Helper()
	stdout, stderr, err := e.run(t, args...)
	if err == nil {
		t.Fatalf("expected portproxy %s to fail\nstdout: %s\nstderr: %s", strings.Join(args, " "), stdout, stderr)
	}
	return stderr
}

func (e *env) readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func newIPTables(t *testing.T) *iptables.IPTables {
	t.Helper()
	ipt, err := iptables.New(iptables.IPFamily(iptables.ProtocolIPv4))
	if err != nil {
		t.Fatalf("failed to initialize iptables: %v", err)
	}
	return ipt
}

// liveRules returns the rules of table/chain that carry the comment tag.
func liveRules(t *testing.T, table, chain, tag string) []string {
	t.Helper()
	rules, err := newIPTables(t).List(table, chain)
	if err != nil {
		t.Fatalf("failed to list %s/%s: %v", table, chain, err)
	}
	var tagged []string
	for _, rule := range rules {
		if strings.Contains(rule, "--comment "+tag+" ") || strings.HasSuffix(rule, "--comment "+tag) {
			tagged = append(tagged, rule)
		}
	}
	return tagged
}

// requireLiveCount asserts the number of live rules tagged with port across all managed chains.
func requireLiveCount(t *testing.T, tag string, expected int) {
	t.Helper()
	total := 0
	for _, chain := range [][2]string{
		{"filter", "INPUT"}, {"filter", "OUTPUT"},
		{"nat", "PREROUTING"}, {"nat", "OUTPUT"},
	} {
		total += len(liveRules(t, chain[0], chain[1], tag))
	}
	if total != expected {
		t.Fatalf("expected %d live rules tagged %s, got %d", expected, tag, total)
	}
}

// cleanupPort removes any live rule left behind for port, whatever state the test ended in.
func cleanupPort(t *testing.T, e *env, port string) {
	t.Helper()
	t.Cleanup(func() {
		_, _, _ = e.run(t, "removeproxy", port)
	})
}

//go:build linux
// +build linux

package filter

import (
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type commandRunner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

type filterImpl struct {
	comment string
	run     commandRunner
}

func NewFilter(identifier string) (Filter, error) {
	return newFilter(identifier, execRunner)
}

func newFilter(identifier string, run commandRunner) (*filterImpl, error) {
	if identifier == "" || strings.ContainsAny(identifier, " \"'") {
		return nil, errors.Errorf("invalid filter identifier %q", identifier)
	}
	f := &filterImpl{comment: identifier, run: run}
	if err := f.isIptablesEnabled(); err != nil {
		return nil, err
	}
	return f, nil
}

// isIptablesEnabled checks if iptables is enabled and available on the system.
func (f *filterImpl) isIptablesEnabled() error {
	output, err := f.run("iptables", "-S")
	if err != nil {
		return errors.Errorf("iptables is not enabled or available: %v\nOutput: %s", err, string(output))
	}
	log.Println("iptables is enabled and available.")
	return nil
}

func (f *filterImpl) ruleSpec(srcAddr string, srcPort int) []string {
	return []string{"OUTPUT", "-p", "tcp", "--tcp-flags", "RST", "RST", "-s", srcAddr, "--sport", strconv.Itoa(srcPort), "-m", "comment", "--comment", f.comment, "-j", "DROP"}
}

// AddTcpServerFiltering adds an iptables rule to block RST packets originating from the given IP and port.
// It first checks if the rule already exists to avoid duplicates.
func (f *filterImpl) AddTcpServerFiltering(srcAddr string, srcPort int) error {
	ruleCheck := fmt.Sprintf("-A OUTPUT -s %s/32 -p tcp -m tcp --sport %d --tcp-flags RST RST -m comment --comment \"%s\" -j DROP", srcAddr, srcPort, f.comment)

	output, err := f.run("iptables", "-S", "OUTPUT")
	if err != nil {
		return errors.Errorf("failed to list iptables rules: %v\nOutput: %s", err, string(output))
	}
	if strings.Contains(string(output), ruleCheck) {
		log.Printf("Rule already exists: %s\n", ruleCheck)
		return nil
	}

	if output, err := f.run("iptables", append([]string{"-A"}, f.ruleSpec(srcAddr, srcPort)...)...); err != nil {
		return errors.Errorf("failed to add iptables rule: %v\nOutput: %s", err, string(output))
	}
	log.Printf("Successfully added rule: %s\n", ruleCheck)
	return nil
}

// RemoveTcpServerFiltering removes the iptables rule that blocks RST packets for the given IP and port.
func (f *filterImpl) RemoveTcpServerFiltering(srcAddr string, srcPort int) error {
	if output, err := f.run("iptables", append([]string{"-D"}, f.ruleSpec(srcAddr, srcPort)...)...); err != nil {
		return errors.Errorf("failed to remove iptables rule: %v\nOutput: %s", err, string(output))
	}
	log.Printf("Successfully removed iptables rule for %s:%d\n", srcAddr, srcPort)
	return nil
}

// FinishFiltering removes all OUTPUT rules carrying this filter's comment.
func (f *filterImpl) FinishFiltering() error {
	output, err := f.run("iptables", "-S", "OUTPUT")
	if err != nil {
		return errors.Errorf("failed to list iptables rules: %v\nOutput: %s", err, string(output))
	}

	var deleteErrors []string
	for _, line := range strings.Split(string(output), "\n") {
		if !strings.Contains(line, "--comment \""+f.comment+"\"") {
			continue
		}
		// Replace "-A" with "-D" to delete the rule; the shell keeps the quoted comment intact
		deleteCmd := strings.Replace(line, "-A", "-D", 1)
		if out, err := f.run("sh", "-c", "iptables "+deleteCmd); err != nil {
			deleteErrors = append(deleteErrors, fmt.Sprintf("%s\nError: %s", deleteCmd, string(out)))
		}
	}

	if len(deleteErrors) > 0 {
		return errors.Errorf("some rules failed to delete:\n%s", strings.Join(deleteErrors, "\n"))
	}
	return nil
}

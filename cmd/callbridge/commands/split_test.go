package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "call.raw")
	customer := filepath.Join(dir, "customer.raw")
	agent := filepath.Join(dir, "agent.raw")

	// two frames: L=0x0101 R=0x0202, L=0x0303 R=0x0404, plus a stray byte
	stereo := []byte{1, 1, 2, 2, 3, 3, 4, 4, 9}
	if err := os.WriteFile(in, stereo, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"split", "-i", in, "--customer", customer, "--agent", agent, "--layout", "customer-right"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	gotCustomer, _ := os.ReadFile(customer)
	gotAgent, _ := os.ReadFile(agent)
	if !bytes.Equal(gotCustomer, []byte{2, 2, 4, 4}) {
		t.Errorf("customer = %v, want right channel", gotCustomer)
	}
	if !bytes.Equal(gotAgent, []byte{1, 1, 3, 3}) {
		t.Errorf("agent = %v, want left channel", gotAgent)
	}
	if !strings.Contains(out.String(), "dropped_bytes=1") {
		t.Errorf("summary = %q", out.String())
	}
}

func TestSplitCommand_Verify(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "call.raw")
	customer := filepath.Join(dir, "customer.raw")
	agent := filepath.Join(dir, "agent.raw")

	stereo := make([]byte, 4*500+3)
	for i := range stereo {
		stereo[i] = byte(i * 7)
	}
	if err := os.WriteFile(in, stereo, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"split", "-i", in, "--customer", customer, "--agent", agent,
		"--layout", "customer-left", "--chunk-bytes", "64", "--verify"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "verified") {
		t.Errorf("summary = %q", out.String())
	}

	// a corrupted output must fail verification
	if err := os.WriteFile(agent, []byte{0, 0}, 0o644); err != nil {
		t.Fatalf("corrupt agent output: %v", err)
	}
	if err := verifySplit(in, customer, agent, "customer-left"); err == nil {
		t.Error("verifySplit() accepted mismatched outputs")
	}
}

package segment

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"testing"
)

const (
	helperModeEnv = "FASTAR_SEGMENT_HELPER"
	helperDirEnv  = "FASTAR_SEGMENT_DIR"
)

// TestSegmentHelperProcess is not a real test. It runs the other side of the
// cross-process tests when the test binary is re-executed with helperModeEnv.
func TestSegmentHelperProcess(t *testing.T) {
	mode := os.Getenv(helperModeEnv)
	if mode == "" {
		t.Skip("only runs as a child process")
	}

	store := NewStore(os.Getenv(helperDirEnv))
	id := testIdentity("cross-process")
	want := payload(1000)

	var h *Handle
	var err error
	switch mode {
	case "create":
		h, err = store.Acquire(id, func() ([]byte, error) { return want, nil })
		if err == nil && !h.Created() {
			err = fmt.Errorf("segment already existed")
		}
	case "attach":
		h, err = store.Attach(NameFor(id.Tag), id.Tag)
		if err == nil && !bytes.Equal(h.Archive(), want) {
			err = fmt.Errorf("attached archive differs")
		}
	default:
		err = fmt.Errorf("unknown helper mode %q", mode)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	h.Close()
	os.Exit(0)
}

func runHelper(t *testing.T, mode, dir string) {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^TestSegmentHelperProcess$")
	cmd.Env = append(os.Environ(), helperModeEnv+"="+mode, helperDirEnv+"="+dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("helper %s failed: %v\n%s", mode, err, out)
	}
}

func TestAttach_AcrossProcesses(t *testing.T) {
	dir := t.TempDir()
	id := testIdentity("cross-process")

	// The creating process has exited before anyone attaches.
	runHelper(t, "create", dir)

	store := NewStore(dir)
	h, err := store.Attach(NameFor(id.Tag), id.Tag)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	defer h.Close()
	if !bytes.Equal(h.Archive(), payload(1000)) {
		t.Fatal("archive published by another process differs")
	}

	again, err := store.Acquire(id, func() ([]byte, error) {
		t.Error("provider called for a segment another process published")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer again.Close()
	if again.Created() {
		t.Fatal("Acquire() should attach to the published segment")
	}

	runHelper(t, "attach", dir)
}

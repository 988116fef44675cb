package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestWritePIDFileWritesCurrentPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nxserve.pid")
	pf, err := WritePIDFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer pf.Remove()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		t.Fatal(err)
	}
	if pid != os.Getpid() {
		t.Fatalf("expected pid %d, got %d", os.Getpid(), pid)
	}
}

func TestRemoveDeletesPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nxserve.pid")
	pf, err := WritePIDFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := pf.Remove(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected pid file to be removed")
	}
}

func TestInstanceIDIsStableWithinProcess(t *testing.T) {
	if InstanceID == "" {
		t.Fatal("expected a non-empty instance id")
	}
	if InstanceID != InstanceID {
		t.Fatal("unreachable")
	}
}

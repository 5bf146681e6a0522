package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWritePIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "sub", "chatnode.pid")
	want := PIDInfo{
		PID:       os.Getpid(),
		Node:      "alice",
		HTTPAddr:  "localhost:8080",
		PeerAddr:  "localhost:9100",
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := WritePIDFile(pidPath, want); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}

	got, err := ReadPIDFile(pidPath)
	if err != nil {
		t.Fatalf("ReadPIDFile failed: %v", err)
	}
	if got.PID != want.PID || got.Node != want.Node || !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("ReadPIDFile = %+v, want %+v", got, want)
	}
}

func TestReadPIDFileInvalidContent(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "bad.pid")
	if err := os.WriteFile(pidPath, []byte("not json"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadPIDFile(pidPath); err == nil {
		t.Fatal("expected error for invalid PID file")
	}
}

func TestCheckPIDFile(t *testing.T) {
	dir := t.TempDir()

	running, _, err := CheckPIDFile(filepath.Join(dir, "missing.pid"))
	if err != nil || running {
		t.Errorf("missing file: running=%v err=%v, want false/nil", running, err)
	}

	live := filepath.Join(dir, "live.pid")
	if err := WritePIDFile(live, PIDInfo{PID: os.Getpid(), Node: "alice"}); err != nil {
		t.Fatal(err)
	}
	running, info, err := CheckPIDFile(live)
	if err != nil || !running || info.Node != "alice" {
		t.Errorf("own pid: running=%v info=%+v err=%v", running, info, err)
	}

	stale := filepath.Join(dir, "stale.pid")
	// PIDs this high are not handed out on Linux or macOS.
	if err := WritePIDFile(stale, PIDInfo{PID: 1 << 30}); err != nil {
		t.Fatal(err)
	}
	running, _, err = CheckPIDFile(stale)
	if err != nil || running {
		t.Errorf("stale pid: running=%v err=%v, want false/nil", running, err)
	}
}

func TestRemovePIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "chatnode.pid")
	if err := WritePIDFile(pidPath, PIDInfo{PID: os.Getpid()}); err != nil {
		t.Fatal(err)
	}

	if err := RemovePIDFile(pidPath); err != nil {
		t.Fatalf("RemovePIDFile failed: %v", err)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("PID file still exists")
	}

	if err := RemovePIDFile(pidPath); err != nil {
		t.Errorf("removing a missing PID file should succeed: %v", err)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("current process should be running")
	}
	if isProcessRunning(0) || isProcessRunning(-1) {
		t.Error("non-positive PIDs are never running")
	}
}

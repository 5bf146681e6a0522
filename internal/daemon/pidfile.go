package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// PIDInfo contains node process metadata stored in the PID file.
type PIDInfo struct {
	PID       int       `json:"pid"`
	Node      string    `json:"node,omitempty"`
	HTTPAddr  string    `json:"http_addr,omitempty"`
	PeerAddr  string    `json:"peer_addr,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// WritePIDFile writes process information to the PID file in JSON format.
func WritePIDFile(path string, info PIDInfo) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal PID info: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	return nil
}

// ReadPIDFile reads process information from the PID file.
func ReadPIDFile(path string) (PIDInfo, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304 - path from node configuration
	if err != nil {
		// Return error without wrapping to preserve os.IsNotExist check
		return PIDInfo{}, err
	}

	var info PIDInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return PIDInfo{}, fmt.Errorf("invalid PID file format: %w", err)
	}
	return info, nil
}

// CheckPIDFile checks if the PID file exists and if the process is running.
// Returns: (running bool, PIDInfo, error)
// - running: true if process is running, false if stale or doesn't exist
// - PIDInfo: process metadata from the file (PID=0 if file doesn't exist)
// - error: any error reading the file (nil if file doesn't exist).
func CheckPIDFile(path string) (bool, PIDInfo, error) {
	info, err := ReadPIDFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, PIDInfo{}, nil
		}
		return false, PIDInfo{}, err
	}

	return isProcessRunning(info.PID), info, nil
}

// RemovePIDFile removes the PID file.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 checks existence and permissions without delivering anything.
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	// Process exists but we don't have permission
	return errors.Is(err, syscall.EPERM)
}

// pkg/powershell/powershell.go - execution of PowerShell command lines with timeouts.

package powershell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"time"
)

// ErrExecutableNotFound indicates that no PowerShell executable exists on
// this machine. Callers treat this as "PowerShell not installed" rather
// than a command failure.
var ErrExecutableNotFound = errors.New("powershell executable not found")

// TimeoutError is returned when a command exceeds its allotted timeout.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("powershell command timed out after %s: %s", e.Timeout, e.Command)
}

// ExecutionError is returned when the command itself fails. Stderr and the
// underlying exit error are preserved for the caller's error detail.
type ExecutionError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("powershell command failed: %v | stderr: %s", e.Err, e.Stderr)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Runner executes a PowerShell command string and returns its stdout.
type Runner interface {
	Run(command string, timeout time.Duration) (string, error)
}

// Shell runs commands through Windows PowerShell. The WindowsFeature
// cmdlets live in the ServerManager module, which ships with Windows
// PowerShell only, so pwsh.exe is never used here.
type Shell struct {
	Exe string
}

// execCommand is abstracted for testing
var execCommand = exec.CommandContext

// New returns a Shell pointed at the system Windows PowerShell.
func New() *Shell {
	return &Shell{
		Exe: filepath.Join(os.Getenv("WINDIR"), "system32", "WindowsPowershell", "v1.0", "powershell.exe"),
	}
}

// Run executes the command string, blocking until completion or timeout.
func (s *Shell) Run(command string, timeout time.Duration) (string, error) {
	if _, err := os.Stat(s.Exe); os.IsNotExist(err) {
		return "", ErrExecutableNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	args := []string{"-NoProfile", "-NoLogo", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-Command", command}
	cmd := execCommand(ctx, s.Exe, args...)
	hideConsoleWindow(cmd)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return out.String(), &TimeoutError{Command: command, Timeout: timeout}
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || os.IsNotExist(err) {
			return "", ErrExecutableNotFound
		}
		return out.String(), &ExecutionError{Command: command, Stderr: stderr.String(), Err: err}
	}
	return out.String(), nil
}

func hideConsoleWindow(cmd *exec.Cmd) {
	if runtime.GOOS == "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			HideWindow: true,
		}
	}
}

// Package ptychan spawns a child shell attached to a pseudo-terminal and
// exposes it as a byte channel: read, write, signal, close.
package ptychan

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// ErrClosed is returned by Write/Read once the channel has been closed.
var ErrClosed = fmt.Errorf("ptychan: channel closed")

// closeGrace is how long Close waits for the child to exit after SIGHUP
// before escalating to SIGKILL.
const closeGrace = 500 * time.Millisecond

// Channel is a single PTY-backed child process. Reads are single-viewpoint:
// bytes are consumed exactly once, with no buffering beyond the OS read
// chunk used internally by Read. Callers are responsible for draining it
// promptly; the channel does no background fan-out.
type Channel struct {
	cmd *exec.Cmd
	pty *os.File

	mu     sync.Mutex
	closed bool
}

// Spawn starts /bin/bash (with rc files and history disabled so the prompt
// stays deterministic) attached to a new PTY, with the given environment
// overlay applied on top of the process environment.
func Spawn(env []string) (*Channel, error) {
	cmd := exec.Command("/bin/bash", "--noprofile", "--norc", "+o", "history")
	cmd.Env = append(os.Environ(), env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 200})
	if err != nil {
		return nil, fmt.Errorf("spawn pty: %w", err)
	}

	return &Channel{cmd: cmd, pty: ptmx}, nil
}

// Read reads whatever is currently available into p, blocking until at
// least one byte arrives, EOF, or an error occurs.
func (c *Channel) Read(p []byte) (int, error) {
	return c.pty.Read(p)
}

// Write sends bytes to the PTY's input side (i.e., the shell's stdin).
func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	c.mu.Unlock()
	return c.pty.Write(p)
}

// Signal delivers sig to the child's process group, which is also the PTY's
// foreground process group since the child was started with Setsid.
func (c *Channel) Signal(sig syscall.Signal) error {
	if c.cmd.Process == nil {
		return fmt.Errorf("ptychan: process not started")
	}
	return syscall.Kill(-c.cmd.Process.Pid, sig)
}

// Pid returns the child process's PID.
func (c *Channel) Pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Wait blocks until the child process exits and returns its error, if any.
func (c *Channel) Wait() error {
	return c.cmd.Wait()
}

// Close terminates the child (SIGHUP, then SIGKILL if it's still alive after
// a short grace window) and closes the PTY master. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.cmd.Process != nil {
		_ = c.Signal(syscall.SIGHUP)

		done := make(chan struct{})
		go func() {
			_ = c.cmd.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(closeGrace):
			_ = c.Kill()
			<-done
		}
	}
	return c.pty.Close()
}

// Kill sends SIGKILL directly to the process group, used when SIGHUP alone
// did not bring the child down within the close grace window.
func (c *Channel) Kill() error {
	return c.Signal(syscall.SIGKILL)
}

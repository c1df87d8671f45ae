// Package exec runs one-off, non-interactive commands (spec.md §4.5): no
// PTY, no session state, just stdout/stderr capture and a timeout ladder.
package exec

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/peterje/rec/internal/errs"
)

// Request describes a single command to run to completion. Callers set
// exactly one of Command (a shell string, run via /bin/sh -c) or Args (an
// argv vector, run directly with no shell involved) — mirroring
// subprocess.run()'s str-vs-list[str] command argument.
type Request struct {
	Command string
	Args    []string
	Shell   bool
	Timeout time.Duration
	Env     []string
	Cwd     string
}

// displayCommand is the command text Run writes to its log lines.
func (r Request) displayCommand() string {
	if r.Shell {
		return r.Command
	}
	return strings.Join(r.Args, " ")
}

// Result is what execute() hands back. FailureReason is empty on a normal
// exit, including a nonzero one; it's only set for the timeout case, where
// there is no process exit code to report.
type Result struct {
	Stdout        string
	Stderr        string
	ExitCode      int
	FailureReason string
}

// DefaultTimeout has no effect on Run itself — an unset Request.Timeout
// means no timeout (see Run). Callers that need to bound how long they're
// willing to wait on an otherwise-untimed request, such as httpapi's outer
// request context, use it as their own sizing constant.
const DefaultTimeout = 30 * time.Second

// killGrace is how long execute() waits after SIGTERM before escalating to
// SIGKILL on a command that ignores the timeout signal.
const killGrace = 2 * time.Second

// Run executes req and returns once the process exits or is killed. Per
// spec.md §3, a one-shot Command request's timeout is "positive float;
// absent ⇒ no timeout" — unlike a Session action, absence here means run to
// completion, not DefaultTimeout. original_source/.../local.py passes
// timeout=None straight through to subprocess.run, which blocks
// indefinitely; Run mirrors that by only installing a deadline when
// req.Timeout is positive.
func Run(ctx context.Context, req Request, logger zerolog.Logger) (*Result, error) {
	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if req.Shell {
		cmd = exec.CommandContext(runCtx, "/bin/sh", "-c", req.Command)
	} else {
		if len(req.Args) == 0 {
			return nil, errs.New(errs.BadRequest, "command argv is empty")
		}
		cmd = exec.CommandContext(runCtx, req.Args[0], req.Args[1:]...)
	}

	cmd.Env = append(cmd.Environ(), req.Env...)
	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}
	// Own process group, so the timeout escalation below can reach any
	// children the command spawns, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	corrID := uuid.New().String()[:8]
	log := logger.With().Str("exec_id", corrID).Logger()
	log.Debug().Str("command", req.displayCommand()).Dur("timeout", req.Timeout).Msg("executing command")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	// A deadline kill surfaces as an *exec.ExitError (killed by signal), so
	// the deadline is checked before the error type.
	if err != nil && runCtx.Err() == context.DeadlineExceeded {
		log.Warn().Str("command", req.displayCommand()).Msg("command timed out")
		return &Result{
			Stdout:        stdout.String(),
			Stderr:        stderr.String(),
			ExitCode:      -1,
			FailureReason: "timeout",
		}, nil
	}

	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	switch e := err.(type) {
	case nil:
		result.ExitCode = 0
	case *exec.ExitError:
		result.ExitCode = e.ExitCode()
	default:
		return nil, errs.New(errs.SpawnFailed, "%v", err)
	}

	log.Debug().Int("exit_code", result.ExitCode).Msg("command finished")
	return result, nil
}

// Package session implements the sentinel-framed bash session state machine
// (spec.md §4.2-§4.4): a Session owns one PTY-backed shell, serializes
// commands against it, and knows how to recover a stuck prompt.
package session

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/peterje/rec/internal/errs"
	"github.com/peterje/rec/internal/ptychan"
)

// Session is one long-lived interactive shell, addressable by name.
type Session struct {
	Name      string
	CreatedAt time.Time

	cfg    Config
	logger zerolog.Logger

	ch   *ptychan.Channel
	pump *outputPump
	ps1  string

	mu           sync.Mutex
	state        State
	lastActivity time.Time

	// buf accumulates PTY output between sentinel matches. Only ever
	// touched while the owning goroutine holds the run in progress; the
	// SESSION_BUSY rule guarantees there is never more than one such
	// goroutine at a time.
	buf strings.Builder
}

// Open spawns a new bash session and syncs it to the IDLE state at its
// first prompt.
func Open(req OpenRequest, cfg Config, logger zerolog.Logger) (*Session, *OpenResult, error) {
	ps1, err := newPS1()
	if err != nil {
		return nil, nil, errs.New(errs.SpawnFailed, "%v", err)
	}

	ch, err := ptychan.Spawn([]string{"PS1=" + ps1, "PS2="})
	if err != nil {
		return nil, nil, errs.New(errs.SpawnFailed, "%v", err)
	}

	s := &Session{
		Name:         req.Name,
		CreatedAt:    time.Now(),
		cfg:          cfg,
		logger:       logger.With().Str("session", req.Name).Logger(),
		ch:           ch,
		pump:         newOutputPump(ch),
		ps1:          ps1,
		state:        StateRunning,
		lastActivity: time.Now(),
	}

	startupTimeout := req.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = cfg.StartupTimeout
	}

	var cmds []string
	for _, path := range req.StartupSource {
		cmds = append(cmds, fmt.Sprintf("source %s", path))
	}
	if len(cmds) > 0 {
		cmds = append(cmds, "sleep 0.3")
	}

	if _, err := s.ch.Write([]byte("\n")); err != nil {
		_ = s.ch.Close()
		return nil, nil, errs.New(errs.SpawnFailed, "write warm-up newline: %v", err)
	}
	if len(cmds) > 0 {
		line := strings.Join(cmds, " ; ") + "\n"
		if _, err := s.ch.Write([]byte(line)); err != nil {
			_ = s.ch.Close()
			return nil, nil, errs.New(errs.SpawnFailed, "write startup_source: %v", err)
		}
	}

	ps1RE := regexp.MustCompile(regexp.QuoteMeta(s.ps1))
	_, pre, _, timedOut, eof := s.awaitAny(time.Now().Add(startupTimeout), []*regexp.Regexp{ps1RE})
	if timedOut || eof {
		_ = s.ch.Close()
		return nil, nil, errs.New(errs.SpawnFailed, "timed out waiting for initial prompt")
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	s.logger.Info().Msg("session opened")
	return s, &OpenResult{Output: stripControlChars(pre), SessionType: "bash"}, nil
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run executes one session action (spec.md §4.3).
func (s *Session) Run(action RunAction) (*RunResult, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil, errs.New(errs.SessionNotFound, "session %q is closed", s.Name)
	case StateRunning, StateRecovering:
		s.mu.Unlock()
		return nil, errs.New(errs.SessionBusy, "session %q is busy", s.Name)
	}
	s.state = StateRunning
	s.buf.Reset()
	s.mu.Unlock()

	result, terminal, err := s.doRun(action)

	s.mu.Lock()
	s.lastActivity = time.Now()
	if terminal {
		s.state = StateClosed
	} else {
		// Covers both success and a non-terminal application error (bad
		// syntax, a failed check): in both cases the shell itself is back
		// at its prompt and ready for the next command.
		s.state = StateIdle
	}
	finalState := s.state
	s.mu.Unlock()

	if terminal {
		_ = s.ch.Close()
	}
	s.logger.Debug().Str("state", finalState.String()).Msg("run finished")
	return result, err
}

func (s *Session) doRun(action RunAction) (*RunResult, bool, error) {
	timeout := action.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	interactive := action.IsInteractiveCommand || action.IsInteractiveQuit || len(action.Expect) > 0
	if interactive {
		return s.runInteractive(action, timeout)
	}
	return s.runNormal(action, timeout)
}

func (s *Session) runInteractive(action RunAction, timeout time.Duration) (*RunResult, bool, error) {
	if _, err := s.ch.Write([]byte(action.Command + "\n")); err != nil {
		return nil, true, errs.New(errs.ChannelClosed, "write command: %v", err)
	}

	patterns, labels := s.expectPatterns(action.Expect)
	idx, pre, _, timedOut, eof := s.awaitAny(time.Now().Add(timeout), patterns)
	if eof {
		return &RunResult{ExitCode: -1, FailureReason: "session exited", SessionType: "bash"}, true, nil
	}
	if timedOut {
		return s.recover(action, pre)
	}

	output := stripEcho(stripSentinels(normalizeNewlines(stripControlChars(pre)), s.ps1), action.Command)
	output = strings.TrimSpace(output)

	return &RunResult{
		Output:       output,
		ExitCode:     0,
		ExpectString: labels[idx],
		SessionType:  "bash",
	}, false, nil
}

func (s *Session) runNormal(action RunAction, timeout time.Duration) (*RunResult, bool, error) {
	if err := checkBashSyntax(action.Command); err != nil {
		return nil, false, err
	}

	if _, err := s.ch.Write([]byte(frameCommand(action.Command))); err != nil {
		return nil, true, errs.New(errs.ChannelClosed, "write command: %v", err)
	}

	exitRE := exitSentinelRE
	_, pre, match, timedOut, eof := s.awaitAny(time.Now().Add(timeout), []*regexp.Regexp{exitRE})
	if eof {
		return &RunResult{ExitCode: -1, FailureReason: "session exited", SessionType: "bash"}, true, nil
	}
	if timedOut {
		return s.recover(action, pre)
	}

	code, _, _, ok := findExitSentinel(match)
	if !ok {
		return nil, false, errs.New(errs.InternalError, "failed to parse exit code from sentinel")
	}

	// Resync to the next PS1_UNIQUE occurrence so the session is provably
	// back at an unambiguous prompt before we hand control back.
	ps1RE := regexp.MustCompile(regexp.QuoteMeta(s.ps1))
	_, _, _, ps1TimedOut, ps1EOF := s.awaitAny(time.Now().Add(s.cfg.InterruptGrace+timeout), []*regexp.Regexp{ps1RE})
	if ps1EOF {
		return &RunResult{ExitCode: -1, FailureReason: "session exited", SessionType: "bash"}, true, nil
	}
	if ps1TimedOut {
		return s.recover(action, pre)
	}

	output := stripSentinels(normalizeNewlines(stripControlChars(pre)), s.ps1)
	framed := strings.TrimSuffix(frameCommand(action.Command), "\n")
	// Drop leftovers of an earlier prompt (e.g. the one the warm-up newline
	// produced) that arrived ahead of the echoed command.
	if i := strings.Index(output, framed); i > 0 {
		output = output[i:]
	}
	output = stripEcho(output, framed)
	// The shell may emit a lone CR after accepting the line; the newline
	// that ends the output's last line belongs to the sentinel line.
	output = strings.TrimPrefix(output, "\r")
	output = strings.TrimRight(output, " \t")
	output = strings.TrimSuffix(output, "\n")

	result := &RunResult{Output: output, ExitCode: code, SessionType: "bash"}

	if action.Check && code != 0 {
		return nil, false, errs.New(errs.CommandFailed,
			"command %q failed with exit code %d. Output: %s", action.Command, code, output)
	}

	return result, false, nil
}

// recover drives the timeout/interrupt state machine (spec.md §4.3).
func (s *Session) recover(action RunAction, accumulated string) (*RunResult, bool, error) {
	s.mu.Lock()
	s.state = StateRecovering
	s.mu.Unlock()
	s.logger.Warn().Str("command", action.Command).Msg("command timed out, attempting recovery")

	output := accumulated
	ps1RE := regexp.MustCompile(regexp.QuoteMeta(s.ps1))

	// Step 1 & 2: SIGINT, then a grace window for the prompt.
	if err := s.ch.Signal(syscall.SIGINT); err != nil {
		return nil, true, errs.New(errs.ChannelClosed, "signal: %v", err)
	}
	_, pre, _, timedOut, eof := s.awaitAny(time.Now().Add(s.cfg.InterruptGrace), []*regexp.Regexp{ps1RE})
	output += pre
	if eof {
		return &RunResult{ExitCode: -1, FailureReason: "session exited", SessionType: "bash"}, true, nil
	}
	if !timedOut {
		return s.recovered(output)
	}

	// Step 3: second SIGINT.
	if err := s.ch.Signal(syscall.SIGINT); err != nil {
		return nil, true, errs.New(errs.ChannelClosed, "signal: %v", err)
	}
	_, pre, _, timedOut, eof = s.awaitAny(time.Now().Add(s.cfg.InterruptGrace), []*regexp.Regexp{ps1RE})
	output += pre
	if eof {
		return &RunResult{ExitCode: -1, FailureReason: "session exited", SessionType: "bash"}, true, nil
	}
	if !timedOut {
		return s.recovered(output)
	}

	// Step 4: ^C directly as PTY input, then a lone newline, then a longer
	// bounded resync attempt.
	if _, err := s.ch.Write([]byte{0x03}); err != nil {
		return nil, true, errs.New(errs.ChannelClosed, "write ^C: %v", err)
	}
	if _, err := s.ch.Write([]byte("\n")); err != nil {
		return nil, true, errs.New(errs.ChannelClosed, "write newline: %v", err)
	}
	_, pre, _, timedOut, eof = s.awaitAny(time.Now().Add(s.cfg.ResyncTimeout), []*regexp.Regexp{ps1RE})
	output += pre
	if !timedOut && !eof {
		return s.recovered(output)
	}

	// Step 6: resync failed, the session is unrecoverable.
	s.logger.Error().Str("command", action.Command).Msg("command timed out and could not be recovered")
	return &RunResult{
		Output:        strings.TrimSpace(stripSentinels(normalizeNewlines(stripControlChars(output)), s.ps1)),
		ExitCode:      -1,
		FailureReason: "command timed out and could not recover",
		SessionType:   "bash",
	}, true, nil
}

func (s *Session) recovered(output string) (*RunResult, bool, error) {
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	return &RunResult{
		Output:        strings.TrimSpace(stripSentinels(normalizeNewlines(stripControlChars(output)), s.ps1)),
		ExitCode:      -1,
		FailureReason: "command timed out",
		SessionType:   "bash",
	}, false, nil
}

// Interrupt delivers SIGINT to the session's foreground process group and
// returns immediately; it's a side channel, not subject to the
// SESSION_BUSY rule, so it can reach a session whose run() is mid-command.
// The command's own response — not this call's — carries the output and
// exit code that result from the signal (spec.md §5: "interrupt_session
// ... delivers SIGINT to that Session's foreground process group and
// returns immediately").
func (s *Session) Interrupt() (*InterruptResult, error) {
	if err := s.ch.Signal(syscall.SIGINT); err != nil {
		return nil, errs.New(errs.ChannelClosed, "%v", err)
	}
	return &InterruptResult{SessionType: "bash"}, nil
}

// Close terminates the session's child process and frees its PTY.
// Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.logger.Info().Msg("session closed")
	return s.ch.Close()
}

func (s *Session) expectPatterns(expect []string) ([]*regexp.Regexp, []string) {
	patterns := make([]*regexp.Regexp, 0, len(expect)+1)
	labels := make([]string, 0, len(expect)+1)
	for _, e := range expect {
		re, err := regexp.Compile(e)
		if err != nil {
			// An unparsable expect string can never match; fall back to a
			// literal match so a bad regex doesn't take down the session.
			re = regexp.MustCompile(regexp.QuoteMeta(e))
		}
		patterns = append(patterns, re)
		labels = append(labels, e)
	}
	patterns = append(patterns, regexp.MustCompile(regexp.QuoteMeta(s.ps1)))
	labels = append(labels, s.ps1)
	return patterns, labels
}

// checkBashSyntax pre-validates a command with `bash -n` against a heredoc'd
// copy, so a syntax error surfaces as BAD_REQUEST instead of corrupting the
// live sentinel stream (ported from swerex's _check_bash_command).
func checkBashSyntax(command string) error {
	const marker = "SOUNIQUEEOF"
	script := fmt.Sprintf("/usr/bin/env bash -n << '%s'\n%s\n%s", marker, command, marker)
	cmd := exec.Command("/bin/sh", "-c", script)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	return errs.New(errs.BadRequest, "bash syntax error in command %q: %s", command, strings.TrimSpace(string(out)))
}

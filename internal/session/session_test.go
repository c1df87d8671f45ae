package session

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/peterje/rec/internal/errs"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StartupTimeout = 10 * time.Second
	cfg.DefaultTimeout = 5 * time.Second
	cfg.InterruptGrace = 500 * time.Millisecond
	cfg.ResyncTimeout = 2 * time.Second
	return cfg
}

func openTestSession(t *testing.T) *Session {
	t.Helper()
	s, _, err := Open(OpenRequest{Name: "test"}, testConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenReachesIdle(t *testing.T) {
	s := openTestSession(t)
	require.Equal(t, StateIdle, s.State())
}

func TestRunSimpleCommandCapturesExitCode(t *testing.T) {
	s := openTestSession(t)

	result, err := s.Run(RunAction{Command: "true"})
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)

	result, err = s.Run(RunAction{Command: "false"})
	require.NoError(t, err)
	require.Equal(t, 1, result.ExitCode)

	require.Equal(t, StateIdle, s.State())
}

func TestRunCapturesStdout(t *testing.T) {
	s := openTestSession(t)

	result, err := s.Run(RunAction{Command: "echo marco-polo"})
	require.NoError(t, err)
	require.Equal(t, "marco-polo", result.Output)
}

func TestEnvironmentPersistsAcrossCommands(t *testing.T) {
	s := openTestSession(t)

	// The command itself produces no output; if the PTY's echo of the
	// framed write (including the literal "$?" sentinel suffix) leaked
	// through, this would fail on the exact-equality check rather than
	// just looking empty-ish under Contains.
	result, err := s.Run(RunAction{Command: "export REC_TEST_VAR=hello"})
	require.NoError(t, err)
	require.Equal(t, "", result.Output)

	result, err = s.Run(RunAction{Command: "echo $REC_TEST_VAR"})
	require.NoError(t, err)
	require.Equal(t, "hello", result.Output)
}

func TestSessionsAreIsolated(t *testing.T) {
	a := openTestSession(t)
	b, _, err := Open(OpenRequest{Name: "test-b"}, testConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	_, err = a.Run(RunAction{Command: "export REC_ISOLATION_VAR=1"})
	require.NoError(t, err)

	result, err := b.Run(RunAction{Command: "echo $REC_ISOLATION_VAR"})
	require.NoError(t, err)
	require.Equal(t, "", result.Output)
}

func TestCheckRaisesCommandFailedOnNonzeroExit(t *testing.T) {
	s := openTestSession(t)

	_, err := s.Run(RunAction{Command: "false", Check: true})
	require.Error(t, err)

	var appErr *errs.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, errs.CommandFailed, appErr.Kind)

	// The session survives a failed check and returns to idle.
	require.Equal(t, StateIdle, s.State())
}

func TestBadSyntaxIsRejectedWithoutRunning(t *testing.T) {
	s := openTestSession(t)

	_, err := s.Run(RunAction{Command: "if true; then"})
	require.Error(t, err)

	var appErr *errs.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, errs.BadRequest, appErr.Kind)
	require.Equal(t, StateIdle, s.State())
}

func TestConcurrentRunIsRejectedAsBusy(t *testing.T) {
	s := openTestSession(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Run(RunAction{Command: "sleep 1"})
	}()

	time.Sleep(100 * time.Millisecond)
	_, err := s.Run(RunAction{Command: "echo too-fast"})
	require.Error(t, err)

	var appErr *errs.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, errs.SessionBusy, appErr.Kind)

	<-done
}

func TestCloseIsIdempotent(t *testing.T) {
	s := openTestSession(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, StateClosed, s.State())
}

func TestRunAfterCloseFailsWithSessionNotFound(t *testing.T) {
	s := openTestSession(t)
	require.NoError(t, s.Close())

	_, err := s.Run(RunAction{Command: "echo unreachable"})
	require.Error(t, err)

	var appErr *errs.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, errs.SessionNotFound, appErr.Kind)
}

func TestCommandTimeoutRecoversSessionToIdle(t *testing.T) {
	s := openTestSession(t)

	result, err := s.Run(RunAction{Command: "sleep 5", Timeout: 300 * time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, "command timed out", result.FailureReason)
	require.Equal(t, StateIdle, s.State())

	// The session is still usable afterwards.
	result, err = s.Run(RunAction{Command: "echo still-alive"})
	require.NoError(t, err)
	require.Contains(t, result.Output, "still-alive")
}

func TestCommandTimeoutUnrecoverableClosesSession(t *testing.T) {
	s := openTestSession(t)

	// A command that traps SIGINT and keeps ignoring it should exhaust the
	// recovery ladder and force the session closed.
	result, err := s.Run(RunAction{
		Command: "trap '' INT; sleep 10",
		Timeout: 300 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, "command timed out and could not recover", result.FailureReason)
	require.Equal(t, StateClosed, s.State())
}

func TestInterruptSignalsRunningCommand(t *testing.T) {
	s := openTestSession(t)

	done := make(chan *RunResult, 1)
	go func() {
		result, _ := s.Run(RunAction{Command: "sleep 30", Timeout: 10 * time.Second})
		done <- result
	}()

	time.Sleep(200 * time.Millisecond)
	_, err := s.Interrupt()
	require.NoError(t, err)

	select {
	case result := <-done:
		require.NotEqual(t, 0, result.ExitCode)
	case <-time.After(5 * time.Second):
		t.Fatal("command did not return after interrupt")
	}
}

func TestInteractiveExpectMatchesPrompt(t *testing.T) {
	s := openTestSession(t)

	result, err := s.Run(RunAction{
		Command:              "python3 -c \"print('ready'); input()\" || cat",
		IsInteractiveCommand: true,
		Expect:               []string{"ready"},
		Timeout:              3 * time.Second,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.ExpectString)
}

func TestMain(m *testing.M) {
	if _, err := os.Stat("/bin/bash"); err != nil {
		os.Exit(0)
	}
	os.Exit(m.Run())
}

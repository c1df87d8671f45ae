package ptychan

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func readUntil(t *testing.T, ch *Channel, substr string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var sb strings.Builder
	buf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		ch.pty.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, err := ch.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
			if strings.Contains(sb.String(), substr) {
				return sb.String()
			}
		}
		if err != nil && !strings.Contains(err.Error(), "i/o timeout") {
			break
		}
	}
	return sb.String()
}

func TestSpawnAndEcho(t *testing.T) {
	ch, err := Spawn([]string{"PS1=", "PS2="})
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Write([]byte("echo hello-ptychan\n"))
	require.NoError(t, err)

	out := readUntil(t, ch, "hello-ptychan", 3*time.Second)
	require.Contains(t, out, "hello-ptychan")
}

func TestCloseIsIdempotent(t *testing.T) {
	ch, err := Spawn(nil)
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
}

func TestWriteAfterCloseFails(t *testing.T) {
	ch, err := Spawn(nil)
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	_, err = ch.Write([]byte("echo unreachable\n"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestCloseEscalatesToSigkillWhenChildIgnoresSighup(t *testing.T) {
	ch, err := Spawn([]string{"PS1=", "PS2="})
	require.NoError(t, err)

	// A bash builtin loop (no forked child) that ignores SIGHUP: the only
	// way Close can bring it down is the SIGKILL escalation.
	_, err = ch.Write([]byte("trap '' HUP; while true; do :; done\n"))
	require.NoError(t, err)
	readUntil(t, ch, "trap", 2*time.Second) // drain the echoed line before it matters

	start := time.Now()
	require.NoError(t, ch.Close())
	require.Less(t, time.Since(start), 2*closeGrace, "Close should escalate to SIGKILL rather than hang")

	require.NotNil(t, ch.cmd.ProcessState)
	require.False(t, ch.cmd.ProcessState.Success())
}

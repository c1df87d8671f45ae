package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPS1IsUniquePerCall(t *testing.T) {
	a, err := newPS1()
	require.NoError(t, err)
	b, err := newPS1()
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.Contains(t, a, ps1Prefix)
	require.Contains(t, a, ps1Suffix)
}

func TestFrameCommandEmbedsSentinel(t *testing.T) {
	framed := frameCommand("ls -la")
	require.Contains(t, framed, "ls -la ;")
	require.Contains(t, framed, exitSentinelPre)
	require.Contains(t, framed, exitSentinelPost)
}

func TestFindExitSentinel(t *testing.T) {
	cases := []struct {
		name     string
		buf      string
		wantCode int
		wantOK   bool
	}{
		{"zero", "some output\n__EXIT__0__END__\n", 0, true},
		{"nonzero", "oops\n__EXIT__127__END__\n", 127, true},
		{"negative", "__EXIT__-1__END__", -1, true},
		{"missing", "no sentinel here", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _, _, ok := findExitSentinel(tc.buf)
			require.Equal(t, tc.wantOK, ok)
			if ok {
				require.Equal(t, tc.wantCode, code)
			}
		})
	}
}

func TestStripEchoRemovesMatchingFirstLine(t *testing.T) {
	out := stripEcho("echo hi\nhi\n", "echo hi")
	require.Equal(t, "hi\n", out)
}

func TestStripEchoLeavesMismatchedFirstLine(t *testing.T) {
	out := stripEcho("hi\n", "echo hi")
	require.Equal(t, "hi\n", out)
}

// A canonical-mode PTY echoes back the exact bytes it was handed, which for
// runNormal is the sentinel-framed command, not the bare one the caller
// passed in. Comparing stripEcho against the bare command leaves that framed
// line in the output untouched.
func TestStripEchoMatchesFramedCommandNotBareCommand(t *testing.T) {
	framed := strings.TrimSuffix(frameCommand(`export MYVAR='test'`), "\n")
	echoed := framed + "\n"

	require.Equal(t, echoed, stripEcho(echoed, `export MYVAR='test'`))
	require.Equal(t, "", stripEcho(echoed, framed))
}

func TestStripSentinelsRemovesPS1AndExitMarker(t *testing.T) {
	ps1 := "SHELLPS1PREFIXabc123SHELLPS1SUFFIX"
	out := stripSentinels("hi\n__EXIT__0__END__\n"+ps1, ps1)
	require.NotContains(t, out, ps1)
	require.NotContains(t, out, exitSentinelPre)
}

func TestNormalizeNewlines(t *testing.T) {
	require.Equal(t, "a\nb\n", normalizeNewlines("a\r\nb\r\n"))
}

func TestStripControlCharsRemovesAnsi(t *testing.T) {
	colored := "\x1b[31mred\x1b[0m"
	require.Equal(t, "red", stripControlChars(colored))
}

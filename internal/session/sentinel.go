package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	ps1Prefix = "SHELLPS1PREFIX"
	ps1Suffix = "SHELLPS1SUFFIX"

	exitSentinelPre  = "__EXIT__"
	exitSentinelPost = "__END__"
)

var exitSentinelRE = regexp.MustCompile(exitSentinelPre + `(-?\d+)` + exitSentinelPost)

var ansiEscapeRE = regexp.MustCompile(`\x1b[@-_][0-?]*[ -/]*[@-~]`)

// newPS1 generates a per-session prompt sentinel, unlikely to appear in
// normal program output: a fixed prefix/suffix wrapped around random hex.
func newPS1() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate ps1: %w", err)
	}
	return ps1Prefix + hex.EncodeToString(b) + ps1Suffix, nil
}

// frameCommand wraps a user command with the exit-sentinel echo per the
// sentinel protocol: "C ; echo \"<pre>$?<post>\"\n".
func frameCommand(command string) string {
	return fmt.Sprintf("%s ; echo \"%s$?%s\"\n", command, exitSentinelPre, exitSentinelPost)
}

// findExitSentinel locates the first exit-sentinel match in buf and returns
// the parsed exit code, the byte range it occupies, and whether it matched.
func findExitSentinel(buf string) (code int, start, end int, ok bool) {
	loc := exitSentinelRE.FindStringSubmatchIndex(buf)
	if loc == nil {
		return 0, 0, 0, false
	}
	codeStr := buf[loc[2]:loc[3]]
	n, err := strconv.Atoi(codeStr)
	if err != nil {
		return 0, 0, 0, false
	}
	return n, loc[0], loc[1], true
}

// stripControlChars removes ANSI escape sequences from shell output.
func stripControlChars(s string) string {
	return ansiEscapeRE.ReplaceAllString(s, "")
}

// normalizeNewlines turns CRLF into LF.
func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// stripEcho removes the echoed command from the first line of output, if
// the shell has echo enabled and the first line matches the command sent.
func stripEcho(output, command string) string {
	firstNL := strings.IndexByte(output, '\n')
	var firstLine, rest string
	if firstNL < 0 {
		firstLine, rest = output, ""
	} else {
		firstLine, rest = output[:firstNL], output[firstNL+1:]
	}
	if strings.TrimRight(firstLine, "\r") == strings.TrimRight(command, "\r\n") {
		return rest
	}
	return output
}

// stripSentinels removes the exit-sentinel markers and trailing PS1 prompt
// occurrences from output, leaving only the command's own output.
func stripSentinels(output, ps1 string) string {
	output = exitSentinelRE.ReplaceAllString(output, "")
	output = strings.ReplaceAll(output, ps1, "")
	return output
}

package session

import (
	"regexp"
	"time"
)

// awaitAny blocks until one of patterns matches the accumulating output
// buffer, deadline passes, or the underlying channel reaches EOF.
//
// On a match it returns the index of the pattern that matched, everything
// that preceded the match (pre), the matched text itself (matched), and
// leaves whatever followed the match buffered for the next call. On
// timeout it returns the buffer accumulated so far as pre and empties the
// buffer, so a later call neither repeats nor re-matches it. On EOF it first
// drains anything the pump already has queued so a match that arrived just
// as the child exited isn't lost.
func (s *Session) awaitAny(deadline time.Time, patterns []*regexp.Regexp) (idx int, pre string, matched string, timedOut bool, eof bool) {
	for {
		if i, p, m, rest, ok := scanBuffer(s.buf.String(), patterns); ok {
			s.buf.Reset()
			s.buf.WriteString(rest)
			return i, p, m, false, false
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			pre := s.buf.String()
			s.buf.Reset()
			return -1, pre, "", true, false
		}

		timer := time.NewTimer(remaining)
		select {
		case chunk, ok := <-s.pump.chunks:
			timer.Stop()
			if ok {
				s.buf.Write(chunk)
			}
		case <-s.pump.Done():
			timer.Stop()
			s.drainPump()
			if i, p, m, rest, ok := scanBuffer(s.buf.String(), patterns); ok {
				s.buf.Reset()
				s.buf.WriteString(rest)
				return i, p, m, false, false
			}
			return -1, s.buf.String(), "", false, true
		case <-timer.C:
			pre := s.buf.String()
			s.buf.Reset()
			return -1, pre, "", true, false
		}
	}
}

// drainPump empties any chunks already queued on the pump without blocking,
// used once the pump has signaled Done to catch output that arrived in the
// same instant the child exited.
func (s *Session) drainPump() {
	for {
		select {
		case chunk, ok := <-s.pump.chunks:
			if !ok {
				return
			}
			s.buf.Write(chunk)
		default:
			return
		}
	}
}

// scanBuffer finds the earliest-starting match among patterns in buf. Ties
// are broken in favor of the lowest pattern index, matching expect-list
// priority order.
func scanBuffer(buf string, patterns []*regexp.Regexp) (idx int, pre string, matched string, rest string, ok bool) {
	bestStart, bestEnd := -1, -1
	bestIdx := -1
	for i, re := range patterns {
		loc := re.FindStringIndex(buf)
		if loc == nil {
			continue
		}
		if bestStart == -1 || loc[0] < bestStart {
			bestStart, bestEnd, bestIdx = loc[0], loc[1], i
		}
	}
	if bestIdx == -1 {
		return 0, "", "", "", false
	}
	return bestIdx, buf[:bestStart], buf[bestStart:bestEnd], buf[bestEnd:], true
}

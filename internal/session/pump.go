package session

import "github.com/peterje/rec/internal/ptychan"

// outputPump drains a PTY channel on its own goroutine and fans each chunk
// out over a buffered channel, mirroring the reader goroutine in the
// teacher's pty.Manager.Start — but with a single consumer (the owning
// Session) instead of a subscriber fan-out, since REC has no streaming
// clients to fan out to.
type outputPump struct {
	chunks chan []byte
	done   chan struct{}
}

func newOutputPump(ch *ptychan.Channel) *outputPump {
	p := &outputPump{
		chunks: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	go p.run(ch)
	return p
}

func (p *outputPump) run(ch *ptychan.Channel) {
	defer close(p.done)
	buf := make([]byte, 32*1024)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.chunks <- data
		}
		if err != nil {
			return
		}
	}
}

// Done reports end-of-stream: the channel closed or the child exited.
func (p *outputPump) Done() <-chan struct{} {
	return p.done
}

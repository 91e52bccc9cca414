package session

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/quillback/parley/internal/errors"
)

// ptyReadSize is the read buffer size for the terminal pump.
const ptyReadSize = 4096

// readQueueDepth bounds how many unread output chunks the pump may hold
// before it blocks on the PTY. At 4 KiB per chunk this is about 1 MiB
// of backlog; the kernel's own PTY buffer absorbs bursts beyond that.
const readQueueDepth = 256

// Channel is a byte-stream connection to the agent's terminal. The
// turn loop writes input lines and drains output through it; it never
// sees the process underneath.
type Channel interface {
	// WriteLine writes text followed by the line terminator the agent
	// expects. Returns ErrChannelClosed (or a write error) once the
	// terminal is gone.
	WriteLine(text string) error

	// ReadAvailable returns output that arrived before the deadline.
	// A nil chunk with a nil error means the deadline passed with no
	// output; ErrChannelClosed means the terminal is gone and fully
	// drained. Output queued before the close is still delivered.
	ReadAvailable(deadline time.Time) ([]byte, error)

	// Close tears down the terminal side. Safe to call more than once.
	Close() error

	// Done is closed when no more output will ever arrive.
	Done() <-chan struct{}
}

// ptyChannel adapts the master side of a pseudo-terminal to the Channel
// interface. A single pump goroutine owns all reads from the PTY and
// hands chunks to ReadAvailable through a buffered queue, so output
// that arrives between turns is retained and delivered to the next
// turn instead of being lost.
type ptyChannel struct {
	ptmx *os.File
	sink io.Writer // receives a copy of every chunk read, may be nil

	reads chan []byte
	quit  chan struct{} // closed by Close to release a blocked pump
	done  chan struct{} // closed by the pump when it exits

	closeOnce sync.Once
	closeErr  error
}

var _ Channel = (*ptyChannel)(nil)

// newPTYChannel wraps an open PTY master and starts the read pump.
// Every chunk read is copied to sink before being queued, which keeps
// the crash capture current even when no turn is draining output.
func newPTYChannel(ptmx *os.File, sink io.Writer) *ptyChannel {
	p := &ptyChannel{
		ptmx:  ptmx,
		sink:  sink,
		reads: make(chan []byte, readQueueDepth),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.pump()
	return p
}

// pump reads from the PTY until the process exits or the channel is
// closed. Reading from the master returns an error once the slave side
// has no open descriptors, which is how process exit is observed here.
func (p *ptyChannel) pump() {
	defer close(p.done)

	buf := make([]byte, ptyReadSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if p.sink != nil {
				_, _ = p.sink.Write(chunk)
			}
			select {
			case p.reads <- chunk:
			case <-p.quit:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// WriteLine writes text plus a newline to the agent's terminal.
func (p *ptyChannel) WriteLine(text string) error {
	select {
	case <-p.done:
		return errors.ErrChannelClosed
	default:
	}
	if _, err := p.ptmx.WriteString(text + "\n"); err != nil {
		return fmt.Errorf("write to agent terminal: %w", err)
	}
	return nil
}

// ReadAvailable waits until output arrives, the deadline passes, or the
// channel closes. Consecutive queued chunks are coalesced into one
// return value to cut down on matcher work in the turn loop.
func (p *ptyChannel) ReadAvailable(deadline time.Time) ([]byte, error) {
	select {
	case chunk := <-p.reads:
		return p.coalesce(chunk), nil
	default:
	}

	wait := time.Until(deadline)
	if wait <= 0 {
		return nil, nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case chunk := <-p.reads:
		return p.coalesce(chunk), nil
	case <-timer.C:
		return nil, nil
	case <-p.done:
		// The pump is gone; deliver whatever it queued before the
		// closed error surfaces on the following call.
		select {
		case chunk := <-p.reads:
			return p.coalesce(chunk), nil
		default:
		}
		return nil, errors.ErrChannelClosed
	}
}

// coalesce appends any further queued chunks onto first without blocking.
func (p *ptyChannel) coalesce(first []byte) []byte {
	out := first
	for {
		select {
		case chunk := <-p.reads:
			out = append(out, chunk...)
		default:
			return out
		}
	}
}

// Close releases the pump and closes the PTY master. The process side
// is not signaled here; stopping the process is the supervisor's job.
func (p *ptyChannel) Close() error {
	p.closeOnce.Do(func() {
		close(p.quit)
		p.closeErr = p.ptmx.Close()
	})
	return p.closeErr
}

// Done reports when the read pump has exited, either because the
// process closed its side of the terminal or because Close was called.
func (p *ptyChannel) Done() <-chan struct{} {
	return p.done
}

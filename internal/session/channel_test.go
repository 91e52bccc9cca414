package session

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/creack/pty"

	"github.com/quillback/parley/internal/errors"
)

// openTestChannel opens a real pseudo-terminal pair with no process
// attached. Writing to the slave side stands in for agent output.
func openTestChannel(t *testing.T, sink io.Writer) (*ptyChannel, *os.File) {
	t.Helper()
	ptmx, pts, err := pty.Open()
	if err != nil {
		t.Skipf("pseudo-terminal unavailable: %v", err)
	}
	ch := newPTYChannel(ptmx, sink)
	t.Cleanup(func() {
		_ = ch.Close()
		_ = pts.Close()
	})
	return ch, pts
}

// waitFor polls cond until it returns true or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestChannel_DeliversOutput(t *testing.T) {
	sink := NewRingBuffer(1024)
	ch, pts := openTestChannel(t, sink)

	if _, err := pts.WriteString("hello"); err != nil {
		t.Fatalf("write to slave side: %v", err)
	}

	chunk, err := ch.ReadAvailable(time.Now().Add(2 * time.Second))
	if err != nil {
		t.Fatalf("ReadAvailable returned error: %v", err)
	}
	if got := string(chunk); got != "hello" {
		t.Errorf("ReadAvailable = %q, want %q", got, "hello")
	}
	if got := string(sink.Bytes()); got != "hello" {
		t.Errorf("capture sink = %q, want %q", got, "hello")
	}
}

func TestChannel_AccumulatesAcrossReads(t *testing.T) {
	ch, pts := openTestChannel(t, nil)

	if _, err := pts.WriteString("ab"); err != nil {
		t.Fatalf("write to slave side: %v", err)
	}
	if _, err := pts.WriteString("cd"); err != nil {
		t.Fatalf("write to slave side: %v", err)
	}

	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 4 && time.Now().Before(deadline) {
		chunk, err := ch.ReadAvailable(time.Now().Add(100 * time.Millisecond))
		if err != nil {
			t.Fatalf("ReadAvailable returned error: %v", err)
		}
		got = append(got, chunk...)
	}
	if string(got) != "abcd" {
		t.Errorf("accumulated output = %q, want %q", got, "abcd")
	}
}

func TestChannel_ReadTimeout(t *testing.T) {
	ch, _ := openTestChannel(t, nil)

	start := time.Now()
	chunk, err := ch.ReadAvailable(time.Now().Add(50 * time.Millisecond))
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("ReadAvailable returned error: %v", err)
	}
	if chunk != nil {
		t.Errorf("ReadAvailable = %q, want nil on timeout", chunk)
	}
	if elapsed < 40*time.Millisecond {
		t.Errorf("ReadAvailable returned after %v, want at least 40ms", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("ReadAvailable took %v, want well under a second", elapsed)
	}
}

func TestChannel_ExpiredDeadlineDeliversQueued(t *testing.T) {
	ch, pts := openTestChannel(t, nil)

	if _, err := pts.WriteString("late"); err != nil {
		t.Fatalf("write to slave side: %v", err)
	}

	// An already-expired deadline must still return output the pump has
	// queued; only the wait is skipped.
	past := time.Now().Add(-time.Second)
	var got []byte
	waitFor(t, 2*time.Second, func() bool {
		chunk, err := ch.ReadAvailable(past)
		if err != nil {
			t.Fatalf("ReadAvailable returned error: %v", err)
		}
		got = append(got, chunk...)
		return len(got) > 0
	}, "queued output never delivered")

	if string(got) != "late" {
		t.Errorf("ReadAvailable = %q, want %q", got, "late")
	}
}

func TestChannel_SlaveCloseSignalsDone(t *testing.T) {
	ch, pts := openTestChannel(t, nil)

	if _, err := pts.WriteString("pre"); err != nil {
		t.Fatalf("write to slave side: %v", err)
	}
	chunk, err := ch.ReadAvailable(time.Now().Add(2 * time.Second))
	if err != nil || string(chunk) != "pre" {
		t.Fatalf("ReadAvailable = %q, %v, want %q, nil", chunk, err, "pre")
	}

	if err := pts.Close(); err != nil {
		t.Fatalf("close slave side: %v", err)
	}

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() not closed after slave side went away")
	}

	if _, err := ch.ReadAvailable(time.Now().Add(100 * time.Millisecond)); !errors.Is(err, errors.ErrChannelClosed) {
		t.Errorf("ReadAvailable after close = %v, want ErrChannelClosed", err)
	}
}

func TestChannel_CloseUnblocksPendingRead(t *testing.T) {
	ch, _ := openTestChannel(t, nil)

	type result struct {
		chunk []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		chunk, err := ch.ReadAvailable(time.Now().Add(5 * time.Second))
		done <- result{chunk, err}
	}()

	// Give the reader a moment to block, then pull the terminal away.
	time.Sleep(50 * time.Millisecond)
	if err := ch.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	select {
	case res := <-done:
		if !errors.Is(res.err, errors.ErrChannelClosed) {
			t.Errorf("blocked ReadAvailable returned %v, want ErrChannelClosed", res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadAvailable still blocked after Close")
	}
}

func TestChannel_CloseIdempotent(t *testing.T) {
	ch, _ := openTestChannel(t, nil)

	first := ch.Close()
	second := ch.Close()
	if first != second {
		t.Errorf("repeated Close returned %v then %v, want identical results", first, second)
	}
}

func TestChannel_WriteLine(t *testing.T) {
	ch, pts := openTestChannel(t, nil)

	if err := ch.WriteLine("hi"); err != nil {
		t.Fatalf("WriteLine returned error: %v", err)
	}

	// The slave side sees the line exactly as the agent would.
	lines := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := pts.Read(buf)
		if err != nil {
			return
		}
		lines <- string(buf[:n])
	}()

	select {
	case got := <-lines:
		if got != "hi\n" {
			t.Errorf("slave side read %q, want %q", got, "hi\n")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("input line never reached the slave side")
	}
}

func TestChannel_WriteLineAfterClose(t *testing.T) {
	ch, _ := openTestChannel(t, nil)

	if err := ch.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() not closed after Close")
	}

	if err := ch.WriteLine("too late"); !errors.Is(err, errors.ErrChannelClosed) {
		t.Errorf("WriteLine after close = %v, want ErrChannelClosed", err)
	}
}

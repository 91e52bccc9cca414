package console_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quillback/parley/internal/bridge"
	"github.com/quillback/parley/internal/transport/console"
)

var _ bridge.Sink = (*console.Console)(nil)

type fakeHandler struct {
	mu  sync.Mutex
	got []bridge.Inbound
}

func (h *fakeHandler) Dispatch(in bridge.Inbound) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, in)
}

func (h *fakeHandler) inbounds() []bridge.Inbound {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bridge.Inbound(nil), h.got...)
}

func TestRun_DispatchesLines(t *testing.T) {
	in := strings.NewReader("hello agent\n/status\n")
	h := &fakeHandler{}

	c := console.New(
		console.WithStreams(in, &bytes.Buffer{}),
		console.WithStyle(false),
	)
	if err := c.Run(context.Background(), h); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	got := h.inbounds()
	if len(got) != 2 {
		t.Fatalf("dispatched %d inbounds, want 2: %+v", len(got), got)
	}
	if got[0].Text != "hello agent" || got[0].Command != "" {
		t.Errorf("first inbound = %+v, want conversation text", got[0])
	}
	if got[1].Command != bridge.CommandStatus {
		t.Errorf("second inbound command = %q, want %q", got[1].Command, bridge.CommandStatus)
	}
	if got[0].Caller != "console" {
		t.Errorf("caller = %q, want %q", got[0].Caller, "console")
	}
}

func TestRun_SkipsBlankLines(t *testing.T) {
	in := strings.NewReader("\n   \nreal input\n\n")
	h := &fakeHandler{}

	c := console.New(
		console.WithStreams(in, &bytes.Buffer{}),
		console.WithStyle(false),
	)
	if err := c.Run(context.Background(), h); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	got := h.inbounds()
	if len(got) != 1 {
		t.Fatalf("dispatched %d inbounds, want 1: %+v", len(got), got)
	}
	if got[0].Text != "real input" {
		t.Errorf("text = %q, want %q", got[0].Text, "real input")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })

	c := console.New(
		console.WithStreams(pr, &bytes.Buffer{}),
		console.WithStyle(false),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, &fakeHandler{}) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error on cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestSendText_WritesLine(t *testing.T) {
	var out bytes.Buffer
	c := console.New(
		console.WithStreams(strings.NewReader(""), &out),
		console.WithStyle(false),
	)

	if err := c.SendText(context.Background(), "the answer"); err != nil {
		t.Fatalf("SendText returned error: %v", err)
	}
	if got := out.String(); got != "the answer\n" {
		t.Errorf("output = %q, want %q", got, "the answer\n")
	}
}

func TestNotify_PlainMarksStatusLines(t *testing.T) {
	var out bytes.Buffer
	c := console.New(
		console.WithStreams(strings.NewReader(""), &out),
		console.WithStyle(false),
	)

	if err := c.Notify(context.Background(), "Agent session restarted."); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if got := out.String(); got != "* Agent session restarted.\n" {
		t.Errorf("output = %q, want %q", got, "* Agent session restarted.\n")
	}
}

func TestMaxMessageChars_Unlimited(t *testing.T) {
	if got := console.New().MaxMessageChars(); got != 0 {
		t.Errorf("MaxMessageChars() = %d, want 0", got)
	}
}

package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"marantz-avr/internal/codec"
	"marantz-avr/internal/protocol"
	"marantz-avr/pkg/avr"
)

// fakeAVR answers command lines with canned status lines over a pair of pipes
type fakeAVR struct {
	respond    func(line string) []string
	toClient   *io.PipeWriter
	fromClient *io.PipeReader
	received   chan string
}

// pipeConn is the client end handed to the transport
type pipeConn struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { return c.w.Write(p) }
func (c *pipeConn) Close() error {
	c.r.Close()
	return c.w.Close()
}

func newFakeAVR(respond func(string) []string) (*fakeAVR, *pipeConn) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	f := &fakeAVR{
		respond:    respond,
		toClient:   inW,
		fromClient: outR,
		received:   make(chan string, 64),
	}
	go f.serve()
	return f, &pipeConn{r: inR, w: outW}
}

func (f *fakeAVR) serve() {
	reader := bufio.NewReader(f.fromClient)
	for {
		line, err := reader.ReadString('\r')
		if err != nil {
			return
		}
		line = strings.TrimSuffix(line, "\r")
		f.received <- line
		if f.respond == nil {
			continue
		}
		for _, reply := range f.respond(line) {
			if err := f.push(reply); err != nil {
				return
			}
		}
	}
}

func (f *fakeAVR) push(line string) error {
	_, err := f.toClient.Write([]byte(line + "\r"))
	return err
}

func (f *fakeAVR) drop(err error) {
	f.toClient.CloseWithError(err)
}

func (f *fakeAVR) hangUp() {
	f.toClient.Close()
}

func (f *fakeAVR) waitReceived(t *testing.T) string {
	t.Helper()
	select {
	case line := <-f.received:
		return line
	case <-time.After(time.Second):
		t.Fatal("fake AVR received nothing")
		return ""
	}
}

// echo answers every set command with its own line and queries with
// the given canned values
func echo(queries map[string]string) func(string) []string {
	return func(line string) []string {
		if reply, ok := queries[line]; ok {
			return []string{reply}
		}
		if strings.HasSuffix(line, "?") {
			return nil
		}
		return []string{line}
	}
}

func newTestSession(t *testing.T, respond func(string) []string) (*Session, *fakeAVR) {
	t.Helper()

	fake, conn := newFakeAVR(respond)
	open := func(ctx context.Context) (io.ReadWriteCloser, error) { return conn, nil }
	transport := protocol.NewLineConnection("fake", "fake-avr", open, protocol.DefaultTerminator, zaptest.NewLogger(t))

	s := New(transport, codec.New(codec.Marantz2016()), Options{Logger: zaptest.NewLogger(t)})
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, fake
}

func TestExecuteSetVolumeEcho(t *testing.T) {
	s, _ := newTestSession(t, echo(nil))

	event, err := s.Execute(context.Background(), avr.NewSetVolume(30), time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if event.Kind != avr.KindVolume {
		t.Fatalf("reply kind: got %s", event.Kind)
	}

	v, ok := s.Snapshot().Volume()
	if !ok || !v.Equal(decimal.NewFromInt(30)) {
		t.Errorf("volume after reply: got %s %v", v, ok)
	}
}

func TestExecuteHalfStepVolume(t *testing.T) {
	s, fake := newTestSession(t, echo(nil))

	level := decimal.RequireFromString("45.5")
	if _, err := s.Execute(context.Background(), avr.SetVolume{Level: level}, time.Second); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if line := fake.waitReceived(t); line != "MV455" {
		t.Errorf("wire line: got %q", line)
	}
	if v, _ := s.Snapshot().Volume(); !v.Equal(level) {
		t.Errorf("volume: got %s", v)
	}
}

func TestExecuteTimeoutLeavesSessionUsable(t *testing.T) {
	s, _ := newTestSession(t, func(line string) []string {
		if line == "SI?" {
			return []string{"SICD"}
		}
		return nil
	})

	start := time.Now()
	_, err := s.Execute(context.Background(), avr.SetPower{State: avr.PowerOn}, 100*time.Millisecond)
	if !errors.Is(err, avr.ErrCommandTimeout) {
		t.Fatalf("expected command timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("timed out early after %s", elapsed)
	}

	event, err := s.Execute(context.Background(), avr.QueryStatus{Status: avr.KindInput}, time.Second)
	if err != nil {
		t.Fatalf("follow-up query: %v", err)
	}
	if event.Value != avr.SourceCD {
		t.Errorf("input: got %v", event.Value)
	}
	if s.pending.inFlight() != 0 {
		t.Errorf("timed out waiter still registered")
	}
}

func TestInterleavedPushOfSameKindIsTakenAsReply(t *testing.T) {
	// The device pushes a volume change (remote control) before answering.
	// Without request ids the push completes the command.
	s, _ := newTestSession(t, func(line string) []string {
		if line == "MV30" {
			return []string{"MV55", "MV30"}
		}
		return nil
	})
	sub := s.Subscribe()

	event, err := s.Execute(context.Background(), avr.NewSetVolume(30), time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if v := event.Value.(decimal.Decimal); !v.Equal(decimal.NewFromInt(55)) {
		t.Errorf("expected the earlier push to complete the command, got %s", v)
	}

	for _, want := range []int64{55, 30} {
		select {
		case ev := <-sub.C:
			if v := ev.Value.(decimal.Decimal); !v.Equal(decimal.NewFromInt(want)) {
				t.Errorf("notification: got %s, want %d", v, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing notification for %d", want)
		}
	}
	if v, _ := s.Snapshot().Volume(); !v.Equal(decimal.NewFromInt(30)) {
		t.Errorf("final volume: got %s", v)
	}
}

func TestInterleavedPushOfOtherKindIsNotDropped(t *testing.T) {
	s, _ := newTestSession(t, func(line string) []string {
		if line == "MV30" {
			return []string{"SIDVD", "ZMON", "MV30"}
		}
		return nil
	})
	raw := s.SubscribeRaw()

	event, err := s.Execute(context.Background(), avr.NewSetVolume(30), time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if event.Raw != "MV30" {
		t.Errorf("reply: got %q", event.Raw)
	}
	if src, ok := s.Snapshot().Input(); !ok || src != avr.SourceDVD {
		t.Errorf("push during pending command was dropped: %v %v", src, ok)
	}
	select {
	case ev := <-raw.C:
		if ev.Raw != "ZMON" {
			t.Errorf("raw: got %q", ev.Raw)
		}
	case <-time.After(time.Second):
		t.Fatal("opaque line not surfaced")
	}
}

func TestExecuteCancellation(t *testing.T) {
	s, fake := newTestSession(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-fake.received
		cancel()
	}()

	_, err := s.Execute(ctx, avr.SetMute{Muted: true}, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if s.pending.inFlight() != 0 {
		t.Errorf("cancelled waiter still registered")
	}
	if s.ConnState() != protocol.StateConnected {
		t.Errorf("cancellation must not affect the connection, state %s", s.ConnState())
	}
}

func TestUnsupportedCommandDoesNoIO(t *testing.T) {
	s, fake := newTestSession(t, echo(nil))

	_, err := s.Execute(context.Background(), avr.NewSetVolume(120), time.Second)
	if !errors.Is(err, avr.ErrUnsupportedCommand) {
		t.Fatalf("expected unsupported command, got %v", err)
	}
	select {
	case line := <-fake.received:
		t.Errorf("invalid command reached the wire: %q", line)
	case <-time.After(50 * time.Millisecond):
	}
	if s.Stats().LinesWritten != 0 {
		t.Errorf("lines written: %d", s.Stats().LinesWritten)
	}
}

func TestExecuteNotConnected(t *testing.T) {
	_, conn := newFakeAVR(nil)
	open := func(ctx context.Context) (io.ReadWriteCloser, error) { return conn, nil }
	transport := protocol.NewLineConnection("fake", "fake-avr", open, "", zaptest.NewLogger(t))
	s := New(transport, codec.New(codec.Marantz2016()), Options{Logger: zaptest.NewLogger(t)})

	_, err := s.Execute(context.Background(), avr.QueryStatus{Status: avr.KindPower}, time.Second)
	if !errors.Is(err, avr.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !errors.Is(s.Err(), avr.ErrSessionClosed) {
		t.Errorf("Err after close: %v", s.Err())
	}
}

func TestOpenFailure(t *testing.T) {
	open := func(ctx context.Context) (io.ReadWriteCloser, error) {
		return nil, errors.New("connection refused")
	}
	transport := protocol.NewLineConnection("fake", "fake-avr", open, "", zaptest.NewLogger(t))
	s := New(transport, codec.New(codec.Marantz2016()), Options{Logger: zaptest.NewLogger(t)})

	err := s.Open(context.Background())
	if !errors.Is(err, avr.ErrConnect) {
		t.Fatalf("expected connect error, got %v", err)
	}
	<-s.Done()

	_, err = s.Execute(context.Background(), avr.QueryStatus{Status: avr.KindPower}, time.Second)
	if !errors.Is(err, avr.ErrNotConnected) {
		t.Errorf("expected not connected after failed open, got %v", err)
	}
	if s.ConnState() != protocol.StateDisconnected {
		t.Errorf("state: %s", s.ConnState())
	}
}

func TestConnectionLostFailsPendingCommand(t *testing.T) {
	s, fake := newTestSession(t, nil)
	sub := s.Subscribe()

	go func() {
		<-fake.received
		fake.drop(errors.New("connection reset by peer"))
	}()

	_, err := s.Execute(context.Background(), avr.QueryStatus{Status: avr.KindPower}, 5*time.Second)
	if !errors.Is(err, avr.ErrConnectionLost) {
		t.Fatalf("expected connection lost, got %v", err)
	}

	<-s.Done()
	if !errors.Is(s.Err(), avr.ErrConnectionLost) {
		t.Errorf("Err: %v", s.Err())
	}
	if _, ok := <-sub.C; ok {
		t.Errorf("subscription should end with the session")
	}

	_, err = s.Execute(context.Background(), avr.QueryStatus{Status: avr.KindPower}, time.Second)
	if !errors.Is(err, avr.ErrConnectionLost) {
		t.Errorf("commands after loss: got %v", err)
	}
}

func TestPeerCloseEndsSessionCleanly(t *testing.T) {
	s, fake := newTestSession(t, nil)

	if err := fake.push("PWSTANDBY"); err != nil {
		t.Fatal(err)
	}
	fake.hangUp()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not end after peer close")
	}
	if s.Err() != nil {
		t.Errorf("clean close should carry no error, got %v", s.Err())
	}
	if p, ok := s.Snapshot().Power(); !ok || p != avr.PowerStandby {
		t.Errorf("last pushed state kept: %v %v", p, ok)
	}

	_, err := s.Execute(context.Background(), avr.QueryStatus{Status: avr.KindPower}, time.Second)
	if !errors.Is(err, avr.ErrNotConnected) {
		t.Errorf("expected not connected, got %v", err)
	}
}

func TestOpenTwice(t *testing.T) {
	s, _ := newTestSession(t, nil)
	if err := s.Open(context.Background()); err == nil {
		t.Errorf("a session must not be reopened")
	}
}

func TestExecuteTimeoutCoversBlockedWrite(t *testing.T) {
	// The device end never reads, so the write itself stalls
	client, device := net.Pipe()
	t.Cleanup(func() { device.Close() })

	open := func(ctx context.Context) (io.ReadWriteCloser, error) { return client, nil }
	transport := protocol.NewLineConnection("fake", "stalled-avr", open, protocol.DefaultTerminator, zaptest.NewLogger(t))
	s := New(transport, codec.New(codec.Marantz2016()), Options{Logger: zaptest.NewLogger(t)})
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	result := make(chan error, 1)
	start := time.Now()
	go func() {
		_, err := s.Execute(context.Background(), avr.SetPower{State: avr.PowerOn}, 100*time.Millisecond)
		result <- err
	}()

	select {
	case err := <-result:
		if !errors.Is(err, avr.ErrCommandTimeout) {
			t.Fatalf("expected command timeout, got %v", err)
		}
		if !errors.Is(err, avr.ErrWrite) {
			t.Errorf("timeout should carry the write failure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Execute still blocked after %s", time.Since(start))
	}
}

func TestQueryCollectsSharedReplies(t *testing.T) {
	s, _ := newTestSession(t, func(line string) []string {
		if line == "MV?" {
			return []string{"MV45", "MVMAX 98"}
		}
		return nil
	})

	events, err := s.Query(context.Background(), avr.KindVolume, time.Second)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 || events[0].Kind != avr.KindVolume || events[1].Kind != avr.KindMaxVolume {
		t.Fatalf("events: %+v", events)
	}
	if v, ok := s.Snapshot().MaxVolume(); !ok || !v.Equal(decimal.NewFromInt(98)) {
		t.Errorf("max volume: %s %v", v, ok)
	}
	if s.pending.inFlight() != 0 {
		t.Errorf("waiters left after Query: %d", s.pending.inFlight())
	}
}

package service

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"marantz-avr/internal/config"
	"marantz-avr/pkg/avr"
	"marantz-avr/pkg/marantz"
)

// cannedReceiver answers queries with fixed status lines and echoes sets
type cannedReceiver struct {
	listener net.Listener

	greeting []string

	mutex    sync.Mutex
	conns    []net.Conn
	accepted int
}

var cannedReplies = map[string][]string{
	"PW?": {"PWON"},
	"MU?": {"MUOFF"},
	"MV?": {"MV50", "MVMAX 98"},
	"SI?": {"SITUNER"},
	"MS?": {"MSSTEREO"},
}

// startCannedReceiver pushes greeting lines to every new connection
func startCannedReceiver(t *testing.T, greeting ...string) *cannedReceiver {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	r := &cannedReceiver{listener: listener, greeting: greeting}
	go r.accept()
	t.Cleanup(func() {
		listener.Close()
		r.dropAll()
	})
	return r
}

func (r *cannedReceiver) port() int {
	return r.listener.Addr().(*net.TCPAddr).Port
}

func (r *cannedReceiver) accept() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			return
		}
		r.mutex.Lock()
		r.conns = append(r.conns, conn)
		r.accepted++
		r.mutex.Unlock()
		go r.serve(conn)
	}
}

func (r *cannedReceiver) serve(conn net.Conn) {
	for _, line := range r.greeting {
		if _, err := conn.Write([]byte(line + "\r")); err != nil {
			return
		}
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\r')
		if err != nil {
			return
		}
		line = strings.TrimSuffix(line, "\r")
		replies, ok := cannedReplies[line]
		if !ok {
			replies = []string{line}
		}
		for _, reply := range replies {
			if _, err := conn.Write([]byte(reply + "\r")); err != nil {
				return
			}
		}
	}
}

func (r *cannedReceiver) dropAll() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, conn := range r.conns {
		conn.Close()
	}
	r.conns = nil
}

func (r *cannedReceiver) acceptedCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.accepted
}

func testConfig(port int) *config.Config {
	return &config.Config{
		AVR: config.AVRConfig{
			Host:           "127.0.0.1",
			Port:           port,
			Transport:      "tcp",
			ModelFamily:    "marantz",
			ConnectTimeout: time.Second,
			CommandTimeout: time.Second,
		},
		Reconnect: config.ReconnectConfig{
			Enabled:  true,
			Delay:    10 * time.Millisecond,
			MaxDelay: 50 * time.Millisecond,
		},
	}
}

// startService runs the service until the test ends
func startService(t *testing.T, cfg *config.Config, connect ConnectFunc) (*AVRService, <-chan BusEvent) {
	t.Helper()

	bus := NewEventBus(zap.NewNop())
	go bus.Start()
	_, events := bus.Subscribe()

	svc := NewAVRService(cfg, connect, bus, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- svc.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-stopped:
			if err != nil {
				t.Errorf("Run returned %v after cancel", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not stop after cancel")
		}
		bus.Close()
	})
	return svc, events
}

func waitForEvent(t *testing.T, events <-chan BusEvent, match func(BusEvent) bool) BusEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-events:
			if match(event) {
				return event
			}
		case <-timeout:
			t.Fatal("timed out waiting for bus event")
			return BusEvent{}
		}
	}
}

func isConnected(connected bool) func(BusEvent) bool {
	return func(e BusEvent) bool {
		return e.Type == EventTypeConnection && e.Connected == connected
	}
}

func TestServiceConnectsRefreshesAndExecutes(t *testing.T) {
	receiver := startCannedReceiver(t)
	svc, events := startService(t, testConfig(receiver.port()), nil)

	waitForEvent(t, events, isConnected(true))
	waitForEvent(t, events, func(e BusEvent) bool {
		return e.Type == EventTypeState && e.Event.Kind == avr.KindSurroundMode
	})

	snapshot, err := svc.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if input, _ := snapshot.Input(); input != avr.SourceTuner {
		t.Errorf("input = %q, want TUNER", input)
	}
	if power, _ := snapshot.Power(); power != avr.PowerOn {
		t.Errorf("power = %q, want ON", power)
	}

	reply, err := svc.Execute(context.Background(), avr.SetInput{Source: avr.SourceCD}, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if reply.Raw != "SICD" {
		t.Errorf("reply = %q, want SICD", reply.Raw)
	}

	status := svc.Status()
	if !status.Connected || status.Connections != 1 || status.SessionID == "" {
		t.Errorf("status = %+v", status)
	}
}

func TestServiceReconnectsWithNewSession(t *testing.T) {
	receiver := startCannedReceiver(t)
	svc, events := startService(t, testConfig(receiver.port()), nil)

	first := waitForEvent(t, events, isConnected(true))
	for deadline := time.Now().Add(time.Second); receiver.acceptedCount() == 0; {
		if time.Now().After(deadline) {
			t.Fatal("receiver never accepted the connection")
		}
		time.Sleep(5 * time.Millisecond)
	}
	receiver.dropAll()

	lost := waitForEvent(t, events, isConnected(false))
	if lost.SessionID != first.SessionID {
		t.Errorf("disconnect reported for session %s, want %s", lost.SessionID, first.SessionID)
	}

	second := waitForEvent(t, events, isConnected(true))
	if second.SessionID == first.SessionID {
		t.Error("reconnect reused the previous session")
	}
	if n := receiver.acceptedCount(); n < 2 {
		t.Errorf("receiver accepted %d connections, want 2", n)
	}
	if status := svc.Status(); status.Connections != 2 {
		t.Errorf("connections = %d, want 2", status.Connections)
	}
}

func TestServicePublishesPushesBeforeSubscribe(t *testing.T) {
	receiver := startCannedReceiver(t, "MSDIRECT")
	cfg := testConfig(receiver.port())

	// Hand the client over only once the greeting is in its state, so the
	// push has happened before the service subscribes
	connect := func(ctx context.Context) (*marantz.Client, error) {
		client, err := ConnectFromConfig(cfg, zap.NewNop())(ctx)
		if err != nil {
			return nil, err
		}
		for deadline := time.Now().Add(time.Second); time.Now().Before(deadline); time.Sleep(5 * time.Millisecond) {
			if event, ok := client.State().Event(avr.KindSurroundMode); ok && event.Raw == "MSDIRECT" {
				break
			}
		}
		return client, nil
	}
	_, events := startService(t, cfg, connect)

	waitForEvent(t, events, isConnected(true))
	event := waitForEvent(t, events, func(e BusEvent) bool {
		return e.Type == EventTypeState && e.Event.Kind == avr.KindSurroundMode
	})
	if event.Event.Raw != "MSDIRECT" {
		t.Errorf("first surround event = %q, want the greeting MSDIRECT", event.Event.Raw)
	}
}

func TestRunWithoutReconnectReturnsConnectError(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	cfg := testConfig(port)
	cfg.Reconnect.Enabled = false

	bus := NewEventBus(zaptest.NewLogger(t))
	svc := NewAVRService(cfg, nil, bus, zaptest.NewLogger(t))

	err = svc.Run(context.Background())
	if !errors.Is(err, avr.ErrConnect) {
		t.Fatalf("Run = %v, want ErrConnect", err)
	}
	if status := svc.Status(); status.Connected || status.LastError == "" {
		t.Errorf("status = %+v", status)
	}
}

func TestCommandsWhileDisconnected(t *testing.T) {
	svc := NewAVRService(testConfig(23), nil, NewEventBus(nil), zaptest.NewLogger(t))

	if _, err := svc.Execute(context.Background(), avr.SetPower{State: avr.PowerOn}, 0); !errors.Is(err, avr.ErrNotConnected) {
		t.Errorf("Execute = %v, want ErrNotConnected", err)
	}
	if err := svc.Refresh(context.Background()); !errors.Is(err, avr.ErrNotConnected) {
		t.Errorf("Refresh = %v, want ErrNotConnected", err)
	}
	if _, err := svc.State(); !errors.Is(err, avr.ErrNotConnected) {
		t.Errorf("State = %v, want ErrNotConnected", err)
	}
	if !IsUnavailable(avr.ErrNotConnected) || IsUnavailable(avr.ErrCommandTimeout) {
		t.Error("IsUnavailable misclassifies errors")
	}
}

func TestReconnectBackOff(t *testing.T) {
	tests := []struct {
		name            string
		delay, maxDelay time.Duration
		want            []time.Duration
	}{
		{"doubles up to max", time.Second, 10 * time.Second,
			[]time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}},
		{"delay equals max", 5 * time.Second, 5 * time.Second,
			[]time.Duration{5 * time.Second, 5 * time.Second}},
		{"zero delay starts at one second", 0, 3 * time.Second,
			[]time.Duration{time.Second, 2 * time.Second, 3 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newReconnectBackOff(tt.delay, tt.maxDelay)
			for i, want := range tt.want {
				if got := b.NextBackOff(); got != want {
					t.Errorf("attempt %d: delay = %s, want %s", i+1, got, want)
				}
			}

			b.Reset()
			if got := b.NextBackOff(); got != tt.want[0] {
				t.Errorf("after Reset: delay = %s, want %s", got, tt.want[0])
			}
		})
	}
}

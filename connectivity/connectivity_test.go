package connectivity

import (
	"context"
	"sync"
	"testing"
	"time"

	grpcconnectivity "google.golang.org/grpc/connectivity"
)

// scriptedConn walks through a fixed list of states, one per wait.
type scriptedConn struct {
	mu     sync.Mutex
	states []grpcconnectivity.State
}

func (c *scriptedConn) GetState() grpcconnectivity.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.states[0]
}

func (c *scriptedConn) WaitForStateChange(ctx context.Context, s grpcconnectivity.State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.states) == 1 {
		return false
	}

	c.states = c.states[1:]
	return true
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Offline:    "OFFLINE",
		Connecting: "CONNECTING",
		Online:     "ONLINE",
		State(42):  "INVALID STATE",
	}

	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestCurrentStateMapping(t *testing.T) {
	cases := map[grpcconnectivity.State]State{
		grpcconnectivity.Idle:             Offline,
		grpcconnectivity.Connecting:       Connecting,
		grpcconnectivity.Ready:            Online,
		grpcconnectivity.TransientFailure: Offline,
		grpcconnectivity.Shutdown:         Offline,
	}

	for connState, want := range cases {
		r := NewReporter(&scriptedConn{states: []grpcconnectivity.State{connState}})
		if got := r.CurrentState(); got != want {
			t.Errorf("%v reported as %v, want %v", connState, got, want)
		}
	}
}

func TestWaitForStateChangeSkipsEquivalentStates(t *testing.T) {
	conn := &scriptedConn{states: []grpcconnectivity.State{
		grpcconnectivity.Idle,
		grpcconnectivity.TransientFailure,
		grpcconnectivity.Ready,
	}}
	r := NewReporter(conn)

	if !r.WaitForStateChange(context.Background(), Offline) {
		t.Fatal("expected a state change")
	}

	if got := r.CurrentState(); got != Online {
		t.Fatalf("state after change = %v, want %v", got, Online)
	}
}

func TestWaitForStateChangeGivesUp(t *testing.T) {
	r := NewReporter(&scriptedConn{states: []grpcconnectivity.State{grpcconnectivity.Ready}})

	if r.WaitForStateChange(context.Background(), Online) {
		t.Fatal("expected no state change")
	}
}

func TestOfflineReporter(t *testing.T) {
	r := NewOfflineReporter()

	if r.CurrentState() != Offline {
		t.Fatalf("offline reporter reported %v", r.CurrentState())
	}

	if !r.WaitForStateChange(context.Background(), Online) {
		t.Fatal("offline reporter should differ from online immediately")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if r.WaitForStateChange(ctx, Offline) {
		t.Fatal("offline reporter should never leave the offline state")
	}
}

package connectivity

import (
	"context"

	grpcconnectivity "google.golang.org/grpc/connectivity"
)

type State int

const (
	Offline State = iota
	Connecting
	Online
)

func (s State) String() string {
	switch s {
	case Offline:
		return "OFFLINE"
	case Connecting:
		return "CONNECTING"
	case Online:
		return "ONLINE"
	default:
		return "INVALID STATE"
	}
}

type Reporter interface {
	CurrentState() State
	// WaitForStateChange blocks until the state differs from the given one
	// and returns true, or returns false once ctx is done.
	WaitForStateChange(context.Context, State) bool
}

// Conn is the part of a *grpc.ClientConn the reporter observes.
type Conn interface {
	GetState() grpcconnectivity.State
	WaitForStateChange(context.Context, grpcconnectivity.State) bool
}

type ConnReporter struct {
	conn Conn
}

var _ Reporter = (*ConnReporter)(nil)

func NewReporter(conn Conn) *ConnReporter {
	return &ConnReporter{conn: conn}
}

func (r *ConnReporter) CurrentState() State {
	return fromConnState(r.conn.GetState())
}

func (r *ConnReporter) WaitForStateChange(ctx context.Context, state State) bool {
	for {
		current := r.conn.GetState()
		if fromConnState(current) != state {
			return true
		}

		if !r.conn.WaitForStateChange(ctx, current) {
			return false
		}
	}
}

func fromConnState(s grpcconnectivity.State) State {
	switch s {
	case grpcconnectivity.Ready:
		return Online
	case grpcconnectivity.Connecting:
		return Connecting
	default:
		return Offline
	}
}

type offlineReporter struct{}

// NewOfflineReporter reports a node that has no connection at all.
func NewOfflineReporter() Reporter {
	return offlineReporter{}
}

func (offlineReporter) CurrentState() State {
	return Offline
}

func (offlineReporter) WaitForStateChange(ctx context.Context, state State) bool {
	if state != Offline {
		return true
	}

	<-ctx.Done()
	return false
}

package client

import (
	"time"

	"github.com/nimbusdb/goclient/internal/stats"
	"github.com/nimbusdb/goclient/internal/wire"
)

// Status is the NodeConnection/ClusterConnection state machine of spec.md
// §3.
type Status int

const (
	StatusClosed Status = iota
	StatusConnecting
	StatusConnected
	StatusDraining
	StatusClosing
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDraining:
		return "draining"
	case StatusClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// rawResult is the connection-internal, type-erased outcome of a completed
// execution — Handle[T] decodes it into the caller's T via a Decoder.
type rawResult struct {
	status         stats.Status
	value          interface{}
	serverDuration time.Duration
	bytesReceived  int64
	serverErr      string
	err            *Error
}

// rawHandle is the connection-internal, type-erased asynchronous handle.
// AsyncHandle[T] wraps one of these plus a Decoder[T].
type rawHandle struct {
	execID uint64
	done   chan struct{}
	result rawResult
}

func newRawHandle(execID uint64) *rawHandle {
	return &rawHandle{execID: execID, done: make(chan struct{})}
}

func (h *rawHandle) complete(r rawResult) {
	h.result = r
	close(h.done)
}

func (h *rawHandle) wait() rawResult {
	<-h.done
	return h.result
}

// Connection is the common surface NodeConnection and ClusterConnection
// both implement, matching spec.md §6's public facade operations. The raw
// (type-erased) execute methods are the substrate Handle[T] builds its
// generic ergonomics on top of, since Go methods cannot themselves be
// generic.
type Connection interface {
	Open() error
	Close(drain bool) error
	Drain(timeout time.Duration) bool
	Status() Status
	Info() Info

	beginExecuteRaw(procedure string, tag wire.ResultTypeTag, params []interface{}, timeoutMS int, callback func(*rawHandle)) (*rawHandle, error)
	endExecuteRaw(h *rawHandle) rawResult
	cancelRaw(h *rawHandle) bool

	statisticsSource() statisticsSource
	settings() Settings
}

// statisticsSource abstracts the "statistics methods fan out and either
// return a dictionary keyed by endpoint or summarize via the statistics
// aggregator" requirement of spec.md §4.6: NodeConnection answers directly
// from its own Collection, ClusterConnection aggregates across children.
type statisticsSource interface {
	lifetime() stats.Snapshot
	byProcedure() map[string]stats.Snapshot
	byNode() map[string]stats.Snapshot
	reset(ignorePending bool)
}

// Create resolves settings.HostList and returns a NodeConnection if exactly
// one endpoint is named, or a ClusterConnection otherwise, per spec.md §6:
// "create(settings) -> Connection: returns a single-node connection if the
// resolved host list has one endpoint, a cluster connection otherwise."
func Create(s Settings) (Connection, error) {
	if len(s.HostList) == 0 {
		return nil, newError(BadArgument, "host_list must name at least one host")
	}
	if len(s.HostList) == 1 {
		return newNodeConnection(s, s.HostList[0]), nil
	}
	return newClusterConnection(s), nil
}

package client

import (
	"crypto/sha256"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusdb/goclient/internal/cache"
	"github.com/nimbusdb/goclient/internal/callback"
	"github.com/nimbusdb/goclient/internal/stats"
	"github.com/nimbusdb/goclient/internal/trace"
	"github.com/nimbusdb/goclient/internal/wire"
)

const sweepInterval = 10 * time.Millisecond

// pendingEntry is the cache.Item a NodeConnection inserts for every
// submitted request. It owns the handle exclusively until completion, per
// spec.md §3's PendingRequest lifecycle note.
type pendingEntry struct {
	handle      *rawHandle
	procedure   string
	submittedAt time.Time
	expiresAt   time.Time
	hasDeadline bool
	callback    func(*rawHandle)
	tag         wire.ResultTypeTag
}

func (p *pendingEntry) ID() uint64 { return p.handle.execID }

func (p *pendingEntry) ExpiresAt() (time.Time, bool) { return p.expiresAt, p.hasDeadline }

// NodeConnection owns a single socket to one server, implementing spec.md
// §4.5: login handshake, submission algorithm, receive loop, timeout
// sweeper, and the Closed/Connecting/Connected/Closing state machine.
// Drain waits for the execution cache to empty without leaving Connected;
// a NodeConnection never enters StatusDraining.
type NodeConnection struct {
	s        Settings
	endpoint string
	codec    wire.ValueCodec
	nonce    string

	mu    sync.Mutex
	state Status
	conn  net.Conn

	writeMu sync.Mutex

	execSeq uint64 // atomic

	cache    *cache.Cache
	statsCol *stats.Collection
	executor *callback.Executor
	queue    *callback.Queue

	info Info

	termMu  sync.Mutex
	termErr *Error

	sweeperStop chan struct{}
	sweeperDone chan struct{}
	recvDone    chan struct{}
}

func newNodeConnection(s Settings, endpoint string) *NodeConnection {
	return &NodeConnection{
		s:        s,
		endpoint: fmt.Sprintf("%s:%d", endpoint, s.Port),
		codec:    wire.JSONCodec{},
		nonce:    uuid.NewString(),
		state:    StatusClosed,
		cache:    cache.New(),
		statsCol: stats.NewCollection(),
		executor: callback.NewExecutor(int64(s.MaxOutstandingTxns)),
	}
}

// attachExecutor lets a ClusterConnection share its single executor across
// every child, per spec.md §5: "a shared callback-executor worker pool (one
// per cluster / standalone node)".
func (n *NodeConnection) attachExecutor(e *callback.Executor) {
	n.executor = e
}

func (n *NodeConnection) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *NodeConnection) Info() Info {
	n.mu.Lock()
	defer n.mu.Unlock()
	info := n.info
	info.UserID = n.s.UserID
	return info
}

func (n *NodeConnection) statisticsSource() statisticsSource { return nodeStats{n} }

func (n *NodeConnection) settings() Settings { return n.s }

// nodeStats adapts a NodeConnection's single Collection to statisticsSource.
type nodeStats struct{ n *NodeConnection }

func (s nodeStats) lifetime() stats.Snapshot { return s.n.statsCol.Lifetime().Snapshot() }

func (s nodeStats) byProcedure() map[string]stats.Snapshot { return s.n.statsCol.SnapshotAll() }

func (s nodeStats) byNode() map[string]stats.Snapshot {
	return map[string]stats.Snapshot{s.n.endpoint: s.n.statsCol.Lifetime().Snapshot()}
}

func (s nodeStats) reset(ignorePending bool) { s.n.statsCol.ResetAll(ignorePending) }

// Open dials the endpoint, performs the login handshake, and starts the
// receive loop and timeout sweeper.
func (n *NodeConnection) Open() error {
	n.mu.Lock()
	if n.state != StatusClosed {
		n.mu.Unlock()
		return newError(InvalidState, "already_open")
	}
	n.state = StatusConnecting
	n.mu.Unlock()

	conn, err := net.DialTimeout("tcp", n.endpoint, n.s.connectionTimeout())
	if err != nil {
		n.mu.Lock()
		n.state = StatusClosed
		n.mu.Unlock()
		return wrapError(ConnectionLost, "unreachable: "+n.endpoint, err)
	}

	hash := sha256.Sum256([]byte(n.s.Password))
	loginPayload := wire.EncodeLoginRequest(wire.LoginRequest{User: n.s.UserID, PasswordHash: hash})
	_ = conn.SetDeadline(time.Now().Add(n.s.connectionTimeout()))
	if err := wire.WriteMessage(conn, loginPayload); err != nil {
		conn.Close()
		n.mu.Lock()
		n.state = StatusClosed
		n.mu.Unlock()
		return wrapError(TransportLost, "handshake_timeout", err)
	}
	respPayload, err := wire.ReadMessage(conn)
	if err != nil {
		conn.Close()
		n.mu.Lock()
		n.state = StatusClosed
		n.mu.Unlock()
		return wrapError(TransportLost, "handshake_timeout", err)
	}
	_ = conn.SetDeadline(time.Time{})

	resp, err := wire.DecodeLoginResponse(respPayload)
	if err != nil {
		conn.Close()
		n.mu.Lock()
		n.state = StatusClosed
		n.mu.Unlock()
		return wrapError(TransportLost, "malformed handshake response", err)
	}
	if !resp.Authenticated {
		conn.Close()
		n.mu.Lock()
		n.state = StatusClosed
		n.mu.Unlock()
		return newError(BadArgument, "auth_failed: "+resp.FailureMessage)
	}

	n.termMu.Lock()
	n.termErr = nil
	n.termMu.Unlock()

	n.mu.Lock()
	n.conn = conn
	n.state = StatusConnected
	n.info = Info{
		Endpoint:              n.endpoint,
		ClusterStartTimestamp: resp.ClusterStartTimestamp,
		LeaderEndpoint:        resp.LeaderEndpoint,
		BuildString:           resp.BuildString,
		HostID:                resp.HostID,
		ConnectionID:          resp.ConnectionID,
		ConnectionCount:       1,
	}
	n.sweeperStop = make(chan struct{})
	n.sweeperDone = make(chan struct{})
	n.recvDone = make(chan struct{})
	n.queue = n.executor.NewQueue()
	n.mu.Unlock()

	trace.Emit(trace.Information, trace.EventConnectionOpened, trace.Fields{
		"endpoint": n.endpoint, "nonce": n.nonce, "host_id": resp.HostID,
	})

	go n.receiveLoop(conn)
	go n.sweepLoop()
	return nil
}

// identity returns the cluster-identity triple learned at login, used by
// ClusterConnection to check consistency across children.
func (n *NodeConnection) identity() (buildString string, clusterStart int64, leaderEndpoint string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.info.BuildString, n.info.ClusterStartTimestamp, n.info.LeaderEndpoint
}

// beginExecuteRaw implements the submission algorithm of spec.md §4.5.
func (n *NodeConnection) beginExecuteRaw(procedure string, tag wire.ResultTypeTag, params []interface{}, timeoutMS int, cb func(*rawHandle)) (*rawHandle, error) {
	if err := n.checkTerminal(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	state := n.state
	n.mu.Unlock()
	if state != StatusConnected && state != StatusDraining {
		return nil, newError(InvalidState, "node connection is not connected")
	}

	effTimeout, err := resolveTimeout(timeoutMS, n.s.commandTimeout())
	if err != nil {
		return nil, err
	}

	execID := atomic.AddUint64(&n.execSeq, 1)
	h := newRawHandle(execID)

	now := time.Now()
	entry := &pendingEntry{
		handle:      h,
		procedure:   procedure,
		submittedAt: now,
		callback:    cb,
		tag:         tag,
	}
	if effTimeout > 0 {
		entry.expiresAt = now.Add(effTimeout)
		entry.hasDeadline = true
	}

	paramBlock, err := n.codec.EncodeParams(params)
	if err != nil {
		return nil, wrapError(BadArgument, "parameter encoding failed", err)
	}

	for n.cache.Size() >= int64(n.s.MaxOutstandingTxns) {
		time.Sleep(time.Millisecond)
		if err := n.checkTerminal(); err != nil {
			return nil, err
		}
	}

	n.cache.Insert(entry)

	req := wire.ExecuteRequest{ExecutionID: execID, Procedure: procedure, ParamBlock: paramBlock}
	payload := wire.EncodeExecuteRequest(req)

	n.writeMu.Lock()
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	var writeErr error
	if conn == nil {
		writeErr = fmt.Errorf("no connection")
	} else {
		writeErr = wire.WriteMessage(conn, payload)
	}
	n.writeMu.Unlock()

	if writeErr != nil {
		// The receive loop's failure path delivers the abort; nothing more
		// to do here (spec.md §4.5 step 7: "captured as terminal and
		// swallowed").
		n.setTerminal(wrapError(ConnectionLost, "write failed", writeErr))
		return h, nil
	}

	n.statsCol.OpenRequest(procedure, execID, int64(len(payload)))
	trace.Emit(trace.Information, trace.EventExecutionStarted, trace.Fields{
		"procedure": procedure, "execution_id": execID,
	})
	return h, nil
}

func (n *NodeConnection) endExecuteRaw(h *rawHandle) rawResult {
	return h.wait()
}

func (n *NodeConnection) cancelRaw(h *rawHandle) bool {
	item, ok := n.cache.Remove(h.execID)
	if !ok {
		return false
	}
	entry := item.(*pendingEntry)
	n.completeEntry(entry, rawResult{
		status: stats.StatusAbort,
		err:    newError(Aborted, "cancelled by caller"),
	})
	n.statsCol.CloseRequest(entry.procedure, h.execID, 0, stats.StatusAbort, 0)
	trace.Emit(trace.Information, trace.EventExecutionAborted, trace.Fields{"execution_id": h.execID})
	return true
}

// completeEntry finishes a pending entry: completes the handle synchronously
// (so Cancel's "synchronously from the caller's thread" guarantee holds) and
// delivers the callback, if any, through the per-connection ordered queue.
func (n *NodeConnection) completeEntry(entry *pendingEntry, r rawResult) {
	entry.handle.complete(r)
	if entry.callback != nil {
		cb := entry.callback
		h := entry.handle
		n.queue.Submit(func() { cb(h) })
	}
}

func (n *NodeConnection) receiveLoop(conn net.Conn) {
	defer close(n.recvDone)
	for {
		payload, err := wire.ReadMessage(conn)
		if err != nil {
			n.fail(wrapError(ConnectionLost, "receive loop terminated", err))
			return
		}
		execID, err := wire.PeekExecutionID(payload)
		if err != nil {
			continue
		}
		item, ok := n.cache.BeginRemove(execID)
		if !ok {
			// Late arrival after the request already completed (timeout or
			// cancel); it was already closed once, so only count the bytes
			// toward lifetime received, not a second response.
			n.statsCol.Lifetime().CountBytesReceived(int64(len(payload)))
			continue
		}
		entry := item.(*pendingEntry)

		resp, err := wire.DecodeExecuteResponse(payload)
		if err != nil {
			n.completeEntry(entry, rawResult{status: stats.StatusFailure, err: wrapError(ServerError, "malformed response", err)})
			n.statsCol.CloseRequest(entry.procedure, execID, 0, stats.StatusFailure, int64(len(payload)))
			n.cache.EndRemove()
			continue
		}

		duration := time.Duration(resp.DurationMillis) * time.Millisecond
		if !resp.Success {
			n.completeEntry(entry, rawResult{
				status:         stats.StatusFailure,
				serverDuration: duration,
				serverErr:      resp.ServerError,
				err:            newError(ServerError, resp.ServerError),
			})
			n.statsCol.CloseRequest(entry.procedure, execID, duration, stats.StatusFailure, int64(len(payload)))
			trace.Emit(trace.Warning, trace.EventExecutionFailed, trace.Fields{"execution_id": execID, "error": resp.ServerError})
			n.cache.EndRemove()
			continue
		}

		value, err := n.codec.DecodeResult(entry.tag, resp.ResultPayload)
		if err != nil {
			n.completeEntry(entry, rawResult{status: stats.StatusFailure, err: wrapError(ServerError, "result decode failed", err)})
			n.statsCol.CloseRequest(entry.procedure, execID, duration, stats.StatusFailure, int64(len(payload)))
			n.cache.EndRemove()
			continue
		}

		n.completeEntry(entry, rawResult{
			status:         stats.StatusSuccess,
			value:          value,
			serverDuration: duration,
			bytesReceived:  int64(len(payload)),
		})
		n.statsCol.CloseRequest(entry.procedure, execID, duration, stats.StatusSuccess, int64(len(payload)))
		trace.Emit(trace.Information, trace.EventExecutionCompleted, trace.Fields{"execution_id": execID})
		n.cache.EndRemove()
	}
}

func (n *NodeConnection) sweepLoop() {
	defer close(n.sweeperDone)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.sweeperStop:
			return
		case <-ticker.C:
			now := time.Now()
			for _, id := range n.cache.ExpiredIDs(now) {
				item, ok := n.cache.Remove(id)
				if !ok {
					continue
				}
				entry := item.(*pendingEntry)
				elapsed := now.Sub(entry.submittedAt)
				n.completeEntry(entry, rawResult{status: stats.StatusTimeout, serverDuration: elapsed, err: newError(Timeout, "client-side timeout elapsed")})
				n.statsCol.CloseRequest(entry.procedure, id, elapsed, stats.StatusTimeout, 0)
				trace.Emit(trace.Warning, trace.EventExecutionTimedOut, trace.Fields{"execution_id": id})
			}
		}
	}
}

// fail is the terminal-error path: abort every pending request with
// connection_lost, close the socket, stop the sweeper, and record the first
// terminal error.
func (n *NodeConnection) fail(err *Error) {
	n.setTerminal(err)
	n.mu.Lock()
	n.state = StatusClosed
	conn := n.conn
	n.conn = nil
	// Whoever takes the socket stops the sweeper; when Close took it first,
	// Close closes sweeperStop itself.
	if conn != nil && n.sweeperStop != nil {
		close(n.sweeperStop)
	}
	n.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	for _, item := range n.cache.All() {
		if entry, ok := n.cache.Remove(item.ID()); ok {
			n.completeEntry(entry.(*pendingEntry), rawResult{status: stats.StatusFailure, err: err})
		}
	}
	trace.Emit(trace.Error, trace.EventConnectionClosed, trace.Fields{"endpoint": n.endpoint, "error": err.Error()})
}

func (n *NodeConnection) setTerminal(err *Error) bool {
	n.termMu.Lock()
	defer n.termMu.Unlock()
	if n.termErr != nil {
		return false
	}
	n.termErr = err
	return true
}

func (n *NodeConnection) checkTerminal() error {
	n.termMu.Lock()
	defer n.termMu.Unlock()
	if n.termErr != nil {
		return n.termErr
	}
	return nil
}

// Drain blocks until the execution cache empties, or timeout elapses (zero
// timeout waits indefinitely).
func (n *NodeConnection) Drain(timeout time.Duration) bool {
	n.mu.Lock()
	state := n.state
	n.mu.Unlock()
	if state != StatusConnected && state != StatusClosing {
		return n.cache.Size() == 0
	}
	trace.Emit(trace.Information, trace.EventDrainingStarted, trace.Fields{"endpoint": n.endpoint})
	ok := n.cache.Drain(timeout)
	trace.Emit(trace.Information, trace.EventDrainingCompleted, trace.Fields{"endpoint": n.endpoint, "complete": ok})
	return ok
}

// Close transitions through Closing, optionally draining, then terminates
// the socket and background workers and aborts any residual pending
// handles.
func (n *NodeConnection) Close(drain bool) error {
	n.mu.Lock()
	if n.state == StatusClosed {
		n.mu.Unlock()
		return nil
	}
	n.state = StatusClosing
	n.mu.Unlock()

	trace.Emit(trace.Information, trace.EventConnectionClosing, trace.Fields{"endpoint": n.endpoint})

	if drain {
		n.cache.Drain(0)
	}

	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	sweeperStop := n.sweeperStop
	n.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if sweeperStop != nil {
		select {
		case <-sweeperStop:
		default:
			close(sweeperStop)
		}
	}
	if n.sweeperDone != nil {
		<-n.sweeperDone
	}
	if n.recvDone != nil {
		<-n.recvDone
	}

	for _, item := range n.cache.All() {
		if entry, ok := n.cache.Remove(item.ID()); ok {
			n.completeEntry(entry.(*pendingEntry), rawResult{status: stats.StatusFailure, err: newError(ConnectionClosed, "connection closed")})
		}
	}

	if n.queue != nil {
		n.queue.Stop()
	}
	n.statsCol.End()

	n.mu.Lock()
	n.state = StatusClosed
	n.mu.Unlock()
	trace.Emit(trace.Information, trace.EventConnectionClosed, trace.Fields{"endpoint": n.endpoint})
	return nil
}

// resolveTimeout interprets the begin_execute timeout_ms argument: 0 means
// "use connection default", -1 means infinite, other negatives are
// rejected.
func resolveTimeout(timeoutMS int, def time.Duration) (time.Duration, error) {
	switch {
	case timeoutMS == 0:
		return def, nil
	case timeoutMS == -1:
		return 0, nil
	case timeoutMS < -1:
		return 0, newError(BadArgument, "negative timeout_ms other than -1 is invalid")
	default:
		return time.Duration(timeoutMS) * time.Millisecond, nil
	}
}

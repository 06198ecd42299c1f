package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/nimbusdb/goclient/internal/callback"
	"github.com/nimbusdb/goclient/internal/stats"
	"github.com/nimbusdb/goclient/internal/trace"
	"github.com/nimbusdb/goclient/internal/wire"
)

// reconnectPacing bounds how often the background reconnection loop may
// attempt a redial across all dead children combined, per spec.md §4.6 so
// that many simultaneously-dead children don't all redial in the same
// instant.
const reconnectPacing = 2 // attempts per second, shared across all children

// ClusterConnection layers batched round-robin load balancing, cluster-
// identity consistency checks, parallel open, and background reconnection
// over a pool of NodeConnections, per spec.md §4.6.
type ClusterConnection struct {
	s Settings

	mu           sync.Mutex
	pool         []*NodeConnection
	liveIndices  atomic.Value // []int
	state        Status
	identitySet  bool
	buildString  string
	clusterStart int64
	leaderEP     string

	execSeq uint64 // atomic

	executor *callback.Executor
	limiter  *rate.Limiter

	reconnectWG sync.WaitGroup
	closing     chan struct{}
}

func newClusterConnection(s Settings) *ClusterConnection {
	c := &ClusterConnection{
		s:        s,
		state:    StatusClosed,
		executor: callback.NewExecutor(int64(s.MaxOutstandingTxns)),
		limiter:  rate.NewLimiter(rate.Limit(reconnectPacing), 1),
		closing:  make(chan struct{}),
	}
	c.liveIndices.Store([]int{})
	return c
}

func (c *ClusterConnection) settings() Settings { return c.s }

func (c *ClusterConnection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ClusterConnection) Info() Info {
	c.mu.Lock()
	pool := append([]*NodeConnection(nil), c.pool...)
	live := c.liveIndices.Load().([]int)
	identity := Info{BuildString: c.buildString, ClusterStartTimestamp: c.clusterStart, LeaderEndpoint: c.leaderEP}
	c.mu.Unlock()

	children := make([]Info, 0, len(pool))
	for _, n := range pool {
		children = append(children, n.Info())
	}
	identity.IsCluster = true
	identity.ChildInfos = children
	identity.ConnectionCount = len(live)
	identity.UserID = c.s.UserID
	return identity
}

// Open resolves the host list into per-endpoint node connections, opens them
// in parallel batches, and establishes the live set, per spec.md §4.6.
func (c *ClusterConnection) Open() error {
	c.mu.Lock()
	if c.state != StatusClosed {
		c.mu.Unlock()
		return newError(InvalidState, "already_open")
	}
	c.state = StatusConnecting
	hosts := append([]string(nil), c.s.HostList...)
	c.mu.Unlock()

	batchSize := len(hosts)
	if batchSize < 1 {
		batchSize = 1
	}

	type openResult struct {
		index int
		node  *NodeConnection
		err   error
		host  string
	}
	results := make([]openResult, len(hosts))

	g, ctx := errgroup.WithContext(context.Background())
	sem := semaphore.NewWeighted(int64(batchSize))
	deadline := time.Now().Add(c.s.connectionTimeout() * time.Duration(batchSize))

	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = openResult{index: i, host: host, err: err}
				return nil
			}
			defer sem.Release(1)
			node := newNodeConnection(c.s, host)
			node.attachExecutor(c.executor)
			err := node.Open()
			results[i] = openResult{index: i, node: node, host: host, err: err}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case <-done:
	case <-time.After(time.Until(deadline)):
	}

	var failures *multierror.Error
	var opened []*NodeConnection
	for _, r := range results {
		if r.err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", r.host, r.err))
			continue
		}
		if r.node == nil {
			failures = multierror.Append(failures, fmt.Errorf("%s: did not complete within batch deadline", r.host))
			continue
		}
		build, start, leader := r.node.identity()
		c.mu.Lock()
		if !c.identitySet {
			c.identitySet = true
			c.buildString, c.clusterStart, c.leaderEP = build, start, leader
		} else if build != c.buildString || start != c.clusterStart || leader != c.leaderEP {
			c.mu.Unlock()
			r.node.Close(false)
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", r.host, newError(InconsistentCluster, "cluster identity mismatch")))
			continue
		}
		c.mu.Unlock()
		opened = append(opened, r.node)
	}

	if c.s.ConnectToAllOrNone && failures != nil {
		for _, n := range opened {
			n.Close(false)
		}
		c.mu.Lock()
		c.state = StatusClosed
		c.mu.Unlock()
		return wrapError(ClusterConnectionFailure, "connect_to_all_or_none: not every host opened", failures)
	}

	if len(opened) == 0 {
		c.mu.Lock()
		c.state = StatusClosed
		c.mu.Unlock()
		if failures != nil {
			return wrapError(NoLiveConnections, "no_single_host", failures)
		}
		return newError(NoLiveConnections, "no_single_host")
	}

	c.mu.Lock()
	c.pool = opened
	live := make([]int, len(opened))
	for i := range opened {
		live[i] = i
	}
	c.liveIndices.Store(live)
	c.state = StatusConnected
	c.mu.Unlock()

	trace.Emit(trace.Information, trace.EventConnectionOpened, trace.Fields{"connection_count": len(opened)})
	return nil
}

// selectIndex implements spec.md §4.6's batched round-robin dispatch
// algorithm, refreshing the live set and retrying if the chosen child has
// died since the last refresh.
func (c *ClusterConnection) selectIndex() (int, *NodeConnection, error) {
	for {
		live := c.liveIndices.Load().([]int)
		if len(live) == 0 {
			c.mu.Lock()
			c.state = StatusClosed
			c.mu.Unlock()
			return 0, nil, newError(NoLiveConnections, "all_connections_lost")
		}
		seq := atomic.AddUint64(&c.execSeq, 1) - 1
		batch := c.s.LoadBalancingBatchSize
		if batch < 1 {
			batch = 1
		}
		idx := live[(int(seq)/batch)%len(live)]

		c.mu.Lock()
		node := c.pool[idx]
		c.mu.Unlock()

		if node.Status() == StatusConnected {
			return idx, node, nil
		}
		c.removeFromLiveSet(idx)
		c.queueReconnect(idx)
	}
}

func (c *ClusterConnection) removeFromLiveSet(deadIdx int) {
	for {
		old := c.liveIndices.Load().([]int)
		next := make([]int, 0, len(old))
		found := false
		for _, i := range old {
			if i == deadIdx {
				found = true
				continue
			}
			next = append(next, i)
		}
		if !found {
			return
		}
		if c.liveIndices.CompareAndSwap(old, next) {
			trace.Emit(trace.Warning, trace.EventConnectionClosed, trace.Fields{"pool_index": deadIdx})
			return
		}
	}
}

// queueReconnect starts a background task (per spec.md §4.6) that retries
// opening the dead child until it succeeds and re-validates cluster
// identity, or the cluster itself stops being Connected.
func (c *ClusterConnection) queueReconnect(idx int) {
	c.reconnectWG.Add(1)
	go func() {
		defer c.reconnectWG.Done()
		for {
			if c.Status() != StatusConnected {
				return
			}
			if err := c.limiter.Wait(context.Background()); err != nil {
				return
			}

			c.mu.Lock()
			node := c.pool[idx]
			c.mu.Unlock()

			trace.Emit(trace.Information, trace.EventReconnectAttempt, trace.Fields{"pool_index": idx})
			if err := node.Open(); err != nil {
				select {
				case <-c.closing:
					return
				case <-time.After(c.s.connectionTimeout()):
				}
				continue
			}

			build, start, leader := node.identity()
			c.mu.Lock()
			matches := build == c.buildString && start == c.clusterStart && leader == c.leaderEP
			c.mu.Unlock()
			if !matches {
				node.Close(false)
				trace.Emit(trace.Error, trace.EventClusterInconsistent, trace.Fields{"pool_index": idx})
				return
			}

			c.addToLiveSet(idx)
			trace.Emit(trace.Information, trace.EventReconnectSucceeded, trace.Fields{"pool_index": idx})
			return
		}
	}()
}

func (c *ClusterConnection) addToLiveSet(idx int) {
	for {
		old := c.liveIndices.Load().([]int)
		for _, i := range old {
			if i == idx {
				return
			}
		}
		next := append(append([]int(nil), old...), idx)
		if c.liveIndices.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *ClusterConnection) beginExecuteRaw(procedure string, tag wire.ResultTypeTag, params []interface{}, timeoutMS int, cb func(*rawHandle)) (*rawHandle, error) {
	_, node, err := c.selectIndex()
	if err != nil {
		return nil, err
	}
	return node.beginExecuteRaw(procedure, tag, params, timeoutMS, cb)
}

func (c *ClusterConnection) endExecuteRaw(h *rawHandle) rawResult {
	return h.wait()
}

func (c *ClusterConnection) cancelRaw(h *rawHandle) bool {
	c.mu.Lock()
	pool := append([]*NodeConnection(nil), c.pool...)
	c.mu.Unlock()
	for _, n := range pool {
		if n.cancelRaw(h) {
			return true
		}
	}
	return false
}

func (c *ClusterConnection) statisticsSource() statisticsSource { return clusterStats{c} }

type clusterStats struct{ c *ClusterConnection }

func (s clusterStats) lifetime() stats.Snapshot {
	var snaps []stats.Snapshot
	for _, n := range s.c.children() {
		snaps = append(snaps, n.statsCol.Lifetime().Snapshot())
	}
	return stats.Summarize(snaps)
}

func (s clusterStats) byProcedure() map[string]stats.Snapshot {
	agg := make(map[string][]stats.Snapshot)
	for _, n := range s.c.children() {
		for name, snap := range n.statsCol.SnapshotAll() {
			agg[name] = append(agg[name], snap)
		}
	}
	out := make(map[string]stats.Snapshot, len(agg))
	for name, snaps := range agg {
		out[name] = stats.Summarize(snaps)
	}
	return out
}

func (s clusterStats) byNode() map[string]stats.Snapshot {
	out := make(map[string]stats.Snapshot)
	for _, n := range s.c.children() {
		out[n.endpoint] = n.statsCol.Lifetime().Snapshot()
	}
	return out
}

func (s clusterStats) reset(ignorePending bool) {
	for _, n := range s.c.children() {
		n.statsCol.ResetAll(ignorePending)
	}
}

// Drain iterates children serially, per spec.md §4.6 ("each child is
// draining in parallel with live traffic already suspended, so serial wait
// ≈ slowest child").
func (c *ClusterConnection) Drain(timeout time.Duration) bool {
	trace.Emit(trace.Information, trace.EventDrainingStarted, trace.Fields{"kind": "cluster"})
	ok := true
	for _, n := range c.children() {
		if !n.Drain(timeout) {
			ok = false
		}
	}
	trace.Emit(trace.Information, trace.EventDrainingCompleted, trace.Fields{"kind": "cluster", "complete": ok})
	return ok
}

func (c *ClusterConnection) children() []*NodeConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*NodeConnection(nil), c.pool...)
}

// Close swallows individual child close errors so one bad child cannot
// block the others, per spec.md §4.6.
func (c *ClusterConnection) Close(drain bool) error {
	c.mu.Lock()
	if c.state == StatusClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StatusClosing
	children := append([]*NodeConnection(nil), c.pool...)
	c.mu.Unlock()

	close(c.closing)
	c.reconnectWG.Wait()

	if drain {
		c.Drain(0)
	}
	for _, n := range children {
		if err := n.Close(false); err != nil {
			trace.Emit(trace.Warning, trace.EventMessage, trace.Fields{"child_close_error": err.Error()})
		}
	}

	c.mu.Lock()
	c.liveIndices.Store([]int{})
	c.state = StatusClosed
	c.mu.Unlock()
	return nil
}

package client

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// The round-robin and node-death tests use a single fake server, reached
// from two pool entries; ClusterConnection.Open happily dials the same endpoint
// twice into two distinct NodeConnections, which is enough to exercise
// parallel open, the live set, and dispatch without needing two ports.
func TestClusterConnectionDispatchRoundRobin(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.close()

	s := DefaultSettings()
	s.HostList = []string{srv.addr(), srv.addr()}
	s.Port = srv.port()
	s.AllowMultipleHostConnections = true
	s.LoadBalancingBatchSize = 2
	s.ConnectionTimeoutMS = 2000
	s.DefaultCommandTimeoutMS = 2000
	s.MaxOutstandingTxns = 2000

	c := newClusterConnection(s)
	require.NoError(t, c.Open())
	defer c.Close(false)
	require.Equal(t, 2, c.Info().ConnectionCount)

	dispatchCounts := map[int]int{}
	var mu sync.Mutex
	const total = 8
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, _, err := c.selectIndex()
			require.NoError(t, err)
			mu.Lock()
			dispatchCounts[idx]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, dispatchCounts, 2)
	for _, count := range dispatchCounts {
		require.Equal(t, total/2, count)
	}
}

func TestClusterConnectionInconsistentIdentity(t *testing.T) {
	srv1 := newFakeServer(t)
	defer srv1.close()
	srv2 := newFakeServer(t)
	defer srv2.close()
	srv2.buildString = "build-2"

	// ClusterConnection.Open rejects a child whose identity disagrees with
	// the pool's already-learned one (spec.md §4.6); drive two
	// NodeConnections directly against srv1/srv2 and confirm the mismatch
	// Open would detect is real.
	n1 := newNodeConnection(testSettings(srv1), srv1.addr())
	require.NoError(t, n1.Open())
	defer n1.Close(false)
	n2 := newNodeConnection(testSettings(srv2), srv2.addr())
	require.NoError(t, n2.Open())
	defer n2.Close(false)

	b1, st1, l1 := n1.identity()
	b2, st2, l2 := n2.identity()
	require.NotEqual(t, b1, b2)
	require.Equal(t, st1, st2)
	require.Equal(t, l1, l2)
}

func TestClusterConnectionNodeDeathRemovesFromLiveSet(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.close()

	s := DefaultSettings()
	s.HostList = []string{srv.addr(), srv.addr()}
	s.Port = srv.port()
	s.AllowMultipleHostConnections = true
	s.LoadBalancingBatchSize = 1
	s.ConnectionTimeoutMS = 200
	s.DefaultCommandTimeoutMS = 2000
	s.MaxOutstandingTxns = 2000

	c := newClusterConnection(s)
	require.NoError(t, c.Open())
	defer c.Close(false)

	_, node, err := c.selectIndex()
	require.NoError(t, err)

	// Force the chosen child's receive loop to observe a transport error.
	node.mu.Lock()
	conn := node.conn
	node.mu.Unlock()
	conn.Close()

	require.Eventually(t, func() bool {
		return node.Status() == StatusClosed
	}, time.Second, 10*time.Millisecond)

	var survivorCount int32
	for i := 0; i < 20; i++ {
		_, n, err := c.selectIndex()
		if err == nil && n.Status() == StatusConnected {
			atomic.AddInt32(&survivorCount, 1)
		}
	}
	require.Greater(t, survivorCount, int32(0))
}

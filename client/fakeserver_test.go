package client

import (
	"net"
	"sync"
	"time"

	"github.com/nimbusdb/goclient/internal/wire"
)

// fakeServer is a minimal stand-in for the real server, enough to drive
// NodeConnection/ClusterConnection through their login handshake and
// execute round-trips in tests, without a real database behind it.
type fakeServer struct {
	listener net.Listener

	buildString  string
	clusterStart int64
	leaderEP     string

	mu      sync.Mutex
	conns   []net.Conn
	onExec  func(execID uint64, procedure string) (respond bool, delay time.Duration, success bool, serverErr string)
	closed  bool
}

func newFakeServer(t interface{ Helper() }) *fakeServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	s := &fakeServer{
		listener:     ln,
		buildString:  "build-1",
		clusterStart: 1000,
		leaderEP:     "127.0.0.1:1",
		onExec: func(uint64, string) (bool, time.Duration, bool, string) {
			return true, 0, true, ""
		},
	}
	go s.acceptLoop()
	return s
}

func (s *fakeServer) addr() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

func (s *fakeServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *fakeServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *fakeServer) serve(conn net.Conn) {
	loginPayload, err := wire.ReadMessage(conn)
	if err != nil {
		return
	}
	loginReq, err := wire.DecodeLoginRequest(loginPayload)
	if err != nil {
		return
	}
	_ = loginReq
	resp := wire.LoginResponse{
		Authenticated:         true,
		HostID:                1,
		ConnectionID:          1,
		BuildString:           s.buildString,
		ClusterStartTimestamp: s.clusterStart,
		LeaderEndpoint:        s.leaderEP,
	}
	if err := wire.WriteMessage(conn, wire.EncodeLoginResponse(resp)); err != nil {
		return
	}

	for {
		payload, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}
		req, err := wire.DecodeExecuteRequest(payload)
		if err != nil {
			continue
		}

		respond, delay, success, serverErr := s.onExec(req.ExecutionID, req.Procedure)
		if !respond {
			continue
		}
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			resp := wire.ExecuteResponse{
				ExecutionID:    req.ExecutionID,
				Success:        success,
				DurationMillis: int32(delay.Milliseconds()),
				ServerError:    serverErr,
			}
			if success {
				resp.ResultPayload = []byte(`"ok"`)
			}
			_ = wire.WriteMessage(conn, wire.EncodeExecuteResponse(resp))
		}()
	}
}

func (s *fakeServer) killOneConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return
	}
	s.conns[len(s.conns)-1].Close()
	s.conns = s.conns[:len(s.conns)-1]
}

func (s *fakeServer) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.listener.Close()
	for _, c := range s.conns {
		c.Close()
	}
}

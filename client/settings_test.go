package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDSNDefaults(t *testing.T) {
	s, err := ParseDSN("")
	require.NoError(t, err)
	require.Equal(t, DefaultPort, s.Port)
	require.Equal(t, []string{"localhost"}, s.HostList)
	require.Equal(t, DefaultMaxOutstandingTxns, s.MaxOutstandingTxns)
}

func TestParseDSNSynonyms(t *testing.T) {
	s, err := ParseDSN("servers=h1,h2&uid=alice&pwd=secret")
	require.NoError(t, err)
	require.Equal(t, []string{"h1", "h2"}, s.HostList)
	require.Equal(t, "alice", s.UserID)
	require.Equal(t, "secret", s.Password)
}

func TestParseDSNUnknownKeyErrors(t *testing.T) {
	_, err := ParseDSN("bogus_key=1")
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, BadArgument, kind)
}

func TestParseDSNPortCoercion(t *testing.T) {
	s, err := ParseDSN("port=0")
	require.NoError(t, err)
	require.Equal(t, DefaultPort, s.Port)

	s, err = ParseDSN("port=70000")
	require.NoError(t, err)
	require.Equal(t, DefaultPort, s.Port)

	s, err = ParseDSN("port=5555")
	require.NoError(t, err)
	require.Equal(t, 5555, s.Port)
}

func TestParseDSNNegativeTimeout(t *testing.T) {
	s, err := ParseDSN("connection_timeout_ms=-1")
	require.NoError(t, err)
	require.Equal(t, -1, s.ConnectionTimeoutMS)

	s, err = ParseDSN("connection_timeout_ms=-5")
	require.NoError(t, err)
	require.Equal(t, DefaultConnectionTimeoutMS, s.ConnectionTimeoutMS)
}

func TestDSNRoundTripWithoutPersistedPassword(t *testing.T) {
	s, err := ParseDSN("servers=h1&uid=alice&pwd=secret&persist_security_info=false")
	require.NoError(t, err)
	require.False(t, s.PersistSecurityInfo)

	rendered := s.DSN()
	reparsed, err := ParseDSN(rendered)
	require.NoError(t, err)

	reparsed.Password = ""
	s.Password = ""
	require.Equal(t, s, reparsed)
}

func TestDSNRoundTripWithPersistedPassword(t *testing.T) {
	s, err := ParseDSN("servers=h1&uid=alice&pwd=secret&persist_security_info=true")
	require.NoError(t, err)

	rendered := s.DSN()
	reparsed, err := ParseDSN(rendered)
	require.NoError(t, err)
	require.Equal(t, s, reparsed)
}

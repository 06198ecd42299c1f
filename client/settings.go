package client

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Default values for ConnectionSettings fields not supplied by the caller.
const (
	DefaultPort                  = 21212
	DefaultConnectionTimeoutMS   = 5000
	DefaultCommandTimeoutMS      = 5000
	DefaultMaxOutstandingTxns    = 3000
	DefaultLoadBalancingBatch    = 100
)

// Settings is the immutable configuration a Connection is created from
// (spec.md §3's ConnectionSettings). Create takes it by value, but HostList
// still shares its backing array with the caller's copy, so the caller must
// not mutate it once passed to Create.
type Settings struct {
	HostList []string
	Port     int

	ConnectionTimeoutMS    int
	DefaultCommandTimeoutMS int

	UserID               string
	Password             string
	PersistSecurityInfo  bool

	AllowSystemCalls             bool
	AllowAdHocQueries            bool
	AllowMultipleHostConnections bool
	ConnectToAllOrNone           bool

	MaxOutstandingTxns     int
	LoadBalancingBatchSize int

	TraceEnabled       bool
	StatisticsEnabled  bool
}

// DefaultSettings returns a Settings populated with every spec.md §3
// default, host_list = ["localhost"].
func DefaultSettings() Settings {
	return Settings{
		HostList:                []string{"localhost"},
		Port:                    DefaultPort,
		ConnectionTimeoutMS:     DefaultConnectionTimeoutMS,
		DefaultCommandTimeoutMS: DefaultCommandTimeoutMS,
		MaxOutstandingTxns:      DefaultMaxOutstandingTxns,
		LoadBalancingBatchSize:  DefaultLoadBalancingBatch,
	}
}

// connectionTimeout and commandTimeout convert the millisecond settings into
// time.Duration for use by the node/cluster connection implementation.
func (s Settings) connectionTimeout() time.Duration {
	return time.Duration(s.ConnectionTimeoutMS) * time.Millisecond
}

func (s Settings) commandTimeout() time.Duration {
	return time.Duration(s.DefaultCommandTimeoutMS) * time.Millisecond
}

// synonyms maps connection-string keys to their canonical settings field, per
// spec.md §6: "servers, hosts, cluster -> host_list; uid -> user_id; pwd ->
// password".
var synonyms = map[string]string{
	"servers": "host_list",
	"hosts":   "host_list",
	"cluster": "host_list",
	"uid":     "user_id",
	"pwd":     "password",
}

var knownKeys = map[string]bool{
	"host_list": true, "port": true,
	"connection_timeout_ms": true, "default_command_timeout_ms": true,
	"user_id": true, "password": true, "persist_security_info": true,
	"allow_system_calls": true, "allow_adhoc_queries": true,
	"allow_multiple_host_connections": true, "connect_to_all_or_none": true,
	"max_outstanding_txns": true, "load_balancing_batch_size": true,
	"trace_enabled": true, "statistics_enabled": true,
}

// ParseDSN parses a connection string of "key=value&key=value..." pairs
// (case-insensitive keys, synonyms resolved) into Settings, per spec.md §6's
// coercion rules. Unknown keys are rejected.
func ParseDSN(dsn string) (Settings, error) {
	s := DefaultSettings()

	u, err := url.ParseQuery(dsn)
	if err != nil {
		return Settings{}, fmt.Errorf("client: invalid DSN: %w", err)
	}

	for rawKey, vals := range u {
		if len(vals) == 0 {
			continue
		}
		value := vals[len(vals)-1]
		key := strings.ToLower(rawKey)
		if canon, ok := synonyms[key]; ok {
			key = canon
		}
		if !knownKeys[key] {
			return Settings{}, &Error{Kind: BadArgument, Message: fmt.Sprintf("unknown DSN key %q", rawKey)}
		}
		if err := applyKey(&s, key, value); err != nil {
			return Settings{}, err
		}
	}
	return s, nil
}

func applyKey(s *Settings, key, value string) error {
	switch key {
	case "host_list":
		s.HostList = splitHostList(value)
	case "port":
		s.Port = coercePort(value)
	case "connection_timeout_ms":
		s.ConnectionTimeoutMS = coerceTimeout(value, DefaultConnectionTimeoutMS)
	case "default_command_timeout_ms":
		s.DefaultCommandTimeoutMS = coerceTimeout(value, DefaultCommandTimeoutMS)
	case "user_id":
		s.UserID = value
	case "password":
		s.Password = value
	case "persist_security_info":
		s.PersistSecurityInfo = coerceBool(value)
	case "allow_system_calls":
		s.AllowSystemCalls = coerceBool(value)
	case "allow_adhoc_queries":
		s.AllowAdHocQueries = coerceBool(value)
	case "allow_multiple_host_connections":
		s.AllowMultipleHostConnections = coerceBool(value)
	case "connect_to_all_or_none":
		s.ConnectToAllOrNone = coerceBool(value)
	case "max_outstanding_txns":
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			s.MaxOutstandingTxns = n
		}
	case "load_balancing_batch_size":
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			s.LoadBalancingBatchSize = n
		}
	case "trace_enabled":
		s.TraceEnabled = coerceBool(value)
	case "statistics_enabled":
		s.StatisticsEnabled = coerceBool(value)
	}
	return nil
}

func splitHostList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' '
	})
	if len(fields) == 0 {
		return []string{"localhost"}
	}
	return fields
}

func coercePort(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 || n > 65535 {
		return DefaultPort
	}
	return n
}

// coerceTimeout keeps -1 as infinite and maps any other negative timeout
// (or an unparsable value) to the field default, per spec.md §6.
func coerceTimeout(value string, def int) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	if n == -1 {
		return -1
	}
	if n < 0 {
		return def
	}
	return n
}

func coerceBool(value string) bool {
	switch strings.ToLower(value) {
	case "yes", "true":
		return true
	default:
		return false
	}
}

// DSN renders s back into a connection string. When PersistSecurityInfo is
// false, the password is omitted — the non-password projection spec.md §8
// requires for the round-trip property parse(render(settings)) == settings.
func (s Settings) DSN() string {
	pairs := map[string]string{
		"host_list":                        strings.Join(s.HostList, ","),
		"port":                             strconv.Itoa(s.Port),
		"connection_timeout_ms":            strconv.Itoa(s.ConnectionTimeoutMS),
		"default_command_timeout_ms":       strconv.Itoa(s.DefaultCommandTimeoutMS),
		"user_id":                          s.UserID,
		"persist_security_info":            strconv.FormatBool(s.PersistSecurityInfo),
		"allow_system_calls":               strconv.FormatBool(s.AllowSystemCalls),
		"allow_adhoc_queries":              strconv.FormatBool(s.AllowAdHocQueries),
		"allow_multiple_host_connections":  strconv.FormatBool(s.AllowMultipleHostConnections),
		"connect_to_all_or_none":           strconv.FormatBool(s.ConnectToAllOrNone),
		"max_outstanding_txns":             strconv.Itoa(s.MaxOutstandingTxns),
		"load_balancing_batch_size":        strconv.Itoa(s.LoadBalancingBatchSize),
		"trace_enabled":                    strconv.FormatBool(s.TraceEnabled),
		"statistics_enabled":               strconv.FormatBool(s.StatisticsEnabled),
	}
	if s.PersistSecurityInfo {
		pairs["password"] = s.Password
	}

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(pairs[k]))
	}
	return b.String()
}

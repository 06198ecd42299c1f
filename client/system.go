package client

import "github.com/nimbusdb/goclient/internal/wire"

// System exposes spec.md §6's `system.*`: thin wrappers over privileged
// procedure names, permitted only when AllowSystemCalls is set. The core
// itself has no special knowledge of any particular system procedure; this
// facade only gates and names them.
type System struct {
	conn Connection
}

// NewSystem constructs the system facade for conn.
func NewSystem(conn Connection) *System {
	return &System{conn: conn}
}

// systemProcedure prefixes name the way the server expects privileged
// procedures to be named.
func systemProcedure(name string) string {
	return "sys." + name
}

// SystemCall invokes a privileged system procedure by name, decoding its
// result with decoder. It is the general escape hatch System's more
// specific convenience wrappers (ServerStatus and similar) are built from.
func SystemCall[T any](s *System, name string, decoder Decoder[T], timeoutMS int, params ...interface{}) (Response[T], error) {
	if !s.conn.settings().AllowSystemCalls {
		return Response[T]{}, newError(PermissionDenied, "allow_system_calls is false")
	}
	h := Wrap(s.conn, systemProcedure(name), decoder, timeoutMS, nil)
	return h.Execute(params...)
}

// ServerStatus calls the well-known "status" system procedure, returning
// its result as a table.
func (s *System) ServerStatus() (Response[wire.Table], error) {
	return SystemCall(s, "status", TableDecoder{}, 0)
}

package client

import "strings"

// adHocProcedure is the privileged server-side procedure name ad-hoc
// queries are dispatched to; the wire protocol carries it as an ordinary
// procedure call, the restriction lives entirely client-side.
const adHocProcedure = "__adhoc_execute"

// AdHoc exposes spec.md §6's `adhoc.execute<T>(query)`: dispatches a raw
// query string to the server's ad-hoc procedure, refusing queries
// containing parameter placeholders (the server has no channel to receive
// bound parameters for this call shape) and refusing to run at all unless
// AllowAdHocQueries is set.
type AdHoc struct {
	conn Connection
}

// NewAdHoc constructs the ad-hoc facade for conn.
func NewAdHoc(conn Connection) *AdHoc {
	return &AdHoc{conn: conn}
}

// Execute runs query as an ad-hoc statement, decoding its result with
// decoder.
func Execute[T any](a *AdHoc, query string, timeoutMS int, decoder Decoder[T]) (Response[T], error) {
	if !a.conn.settings().AllowAdHocQueries {
		return Response[T]{}, newError(PermissionDenied, "allow_adhoc_queries is false")
	}
	if strings.ContainsAny(query, "?") {
		return Response[T]{}, newError(BadArgument, "ad-hoc queries may not contain parameter placeholders")
	}
	h := Wrap(a.conn, adHocProcedure, decoder, timeoutMS, nil)
	return h.Execute(query)
}

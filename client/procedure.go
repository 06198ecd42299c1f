package client

// Handle is a strongly-typed, reusable reference to a named server-side
// procedure, built with Wrap. It is the realization of spec.md §6's
// `procedures.wrap<TResult, T1..Tn>(name, timeout?, callback?) -> Handle`
// and of §9's design note: since Go has no variadic generics, parameters
// are carried as a type-erased vector (`...interface{}`) checked only at
// submission, preserving the public ergonomics of execute/begin_execute/
// end_execute/try_execute/cancel at the cost of compile-time arity
// checking.
type Handle[T any] struct {
	conn      Connection
	name      string
	decoder   Decoder[T]
	timeoutMS int
	callback  func(Response[T], error)
}

// Wrap creates a Handle for the named procedure, decoding results with
// decoder. timeoutMS of 0 uses the connection default; -1 means infinite.
// callback, if non-nil, is invoked once per asynchronous completion in
// addition to whatever per-call callback begin_execute is given.
func Wrap[T any](conn Connection, name string, decoder Decoder[T], timeoutMS int, callback func(Response[T], error)) *Handle[T] {
	return &Handle[T]{conn: conn, name: name, decoder: decoder, timeoutMS: timeoutMS, callback: callback}
}

// AsyncHandle is the typed asynchronous handle returned by begin_execute.
type AsyncHandle[T any] struct {
	raw     *rawHandle
	conn    Connection
	decoder Decoder[T]
}

func (h *Handle[T]) decode(r rawResult) (Response[T], error) {
	if r.err != nil {
		return Response[T]{}, r.err
	}
	value, err := h.decoder.Decode(r.value)
	if err != nil {
		return Response[T]{}, wrapError(ServerError, "result decode failed", err)
	}
	return Response[T]{
		Result:         value,
		ServerDuration: r.serverDuration.Milliseconds(),
		BytesReceived:  r.bytesReceived,
	}, nil
}

// Execute is the synchronous facade: begin_execute followed by
// end_execute.
func (h *Handle[T]) Execute(params ...interface{}) (Response[T], error) {
	async, err := h.BeginExecute(nil, h.timeoutMS, nil, params...)
	if err != nil {
		return Response[T]{}, err
	}
	return h.EndExecute(async)
}

// TryExecute wraps Execute, reporting success as a boolean instead of an
// error, per spec.md §6's `try_execute(args...) -> (ok, response)`.
func (h *Handle[T]) TryExecute(params ...interface{}) (bool, Response[T]) {
	resp, err := h.Execute(params...)
	return err == nil, resp
}

// BeginExecute is the non-blocking submit. state is forwarded to callback
// unconditionally, per spec.md §9's explicit instruction to follow the
// specification over a suspected source oversight ("begin_execute's state
// parameter ... forgets to forward it").
func (h *Handle[T]) BeginExecute(state interface{}, timeoutMS int, callback func(Response[T], error, interface{}), params ...interface{}) (*AsyncHandle[T], error) {
	eff := timeoutMS
	if eff == 0 {
		eff = h.timeoutMS
	}

	var cb func(*rawHandle)
	if callback != nil || h.callback != nil {
		cb = func(rh *rawHandle) {
			resp, err := h.decode(rh.result)
			if callback != nil {
				callback(resp, err, state)
			}
			if h.callback != nil {
				h.callback(resp, err)
			}
		}
	}

	raw, err := h.conn.beginExecuteRaw(h.name, h.decoder.Tag(), params, eff, cb)
	if err != nil {
		return nil, err
	}
	return &AsyncHandle[T]{raw: raw, conn: h.conn, decoder: h.decoder}, nil
}

// EndExecute blocks until the handle completes, then decodes its result.
func (h *Handle[T]) EndExecute(handle *AsyncHandle[T]) (Response[T], error) {
	r := h.conn.endExecuteRaw(handle.raw)
	return h.decode(r)
}

// Cancel attempts to client-side abort an outstanding handle. Returns true
// if the pending request was removed from the cache before a response or
// timeout arrived.
func (h *Handle[T]) Cancel(handle *AsyncHandle[T]) bool {
	return h.conn.cancelRaw(handle.raw)
}

// Package message defines the two values exchanged between nodes.
//
// A Request names an operation and carries its argument bytes. A Response carries a
// Status and a body. Both are plain values: they are built by a caller, encoded by the
// codec package, written to the wire and dropped once the other side has decoded them.
package message

// Status is the outcome class of a Response. Ok is the only success status; a non-empty
// body on its own says nothing about success.
type Status uint8

const (
	Ok         Status = iota // Request handled
	Busy                     // Peer can't answer yet, ask again later
	ClientFail               // Request was malformed or unsupported
	ServerFail               // Peer failed while handling a valid request
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "Ok"
	case Busy:
		return "Busy"
	case ClientFail:
		return "ClientFail"
	case ServerFail:
		return "ServerFail"
	}
	return "Unknown"
}

// Request carries the data for a single remote operation.
//
//   - Name selects the handler on the receiving server, e.g. "helo" or "redy".
//     It should never be empty.
//   - Data is the handler-specific argument, possibly empty.
type Request struct {
	Name string
	Data []byte
}

// Response carries the outcome of a Request.
type Response struct {
	Status Status
	Body   []byte
}

var (
	// EmptyOk is an Ok response with no body.
	EmptyOk = Response{Status: Ok}
	// EmptyBusy is a Busy response with no body.
	EmptyBusy = Response{Status: Busy}
)

// NewRequest builds a Request. A nil data slice is stored as empty.
func NewRequest(name string, data []byte) Request {
	if data == nil {
		data = []byte{}
	}
	return Request{Name: name, Data: data}
}

// NewResponse builds a Response. A nil body is stored as empty.
func NewResponse(status Status, body []byte) Response {
	if body == nil {
		body = []byte{}
	}
	return Response{Status: status, Body: body}
}

// TextResponse builds a Response whose body is the UTF-8 text s.
func TextResponse(status Status, s string) Response {
	return Response{Status: status, Body: []byte(s)}
}

// OK reports whether the response has the Ok status.
func (r Response) OK() bool {
	return r.Status == Ok
}

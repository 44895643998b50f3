// Package codec implements the bit-exact binary encoding of requests and responses.
//
// Both frames start with a fixed 8-byte header of two big-endian uint32 fields, followed
// by the byte regions the header declares, in field order:
//
//	Request:  ┌──────────┬──────────┬────────────┬────────────┐
//	          │ nameLen  │ dataLen  │ name bytes │ data bytes │
//	          └──────────┴──────────┴────────────┴────────────┘
//	Response: ┌──────────┬──────────┬────────────┐
//	          │  status  │ bodyLen  │ body bytes │
//	          └──────────┴──────────┴────────────┘
//
// Encoding never fails. Decoding rejects buffers shorter than the header and buffers
// whose declared lengths run past the end of the input.
package codec

import (
	"encoding/binary"
	"errors"

	"node-rpc/message"
)

// HeaderSize is the size of the fixed frame header shared by both frame types.
const HeaderSize = 8

var (
	ErrShortHeader = errors.New("codec: buffer shorter than frame header")
	ErrTruncated   = errors.New("codec: declared length exceeds buffer")
	ErrStatusCode  = errors.New("codec: unknown status code")
)

// Representative wire codes. Decoding accepts the whole hundred-block of each.
const (
	CodeOk         uint32 = 200
	CodeBusy       uint32 = 300
	CodeClientFail uint32 = 400
	CodeServerFail uint32 = 500
)

// StatusCode returns the representative wire code of s.
func StatusCode(s message.Status) uint32 {
	switch s {
	case message.Busy:
		return CodeBusy
	case message.ClientFail:
		return CodeClientFail
	case message.ServerFail:
		return CodeServerFail
	}
	return CodeOk
}

// StatusFromCode maps a wire code onto its status band.
func StatusFromCode(code uint32) (message.Status, bool) {
	switch {
	case code >= 200 && code < 300:
		return message.Ok, true
	case code >= 300 && code < 400:
		return message.Busy, true
	case code >= 400 && code < 500:
		return message.ClientFail, true
	case code >= 500 && code < 600:
		return message.ServerFail, true
	}
	return 0, false
}

// header reads the two uint32 header fields of data.
func header(data []byte) (uint32, uint32, error) {
	if len(data) < HeaderSize {
		return 0, 0, ErrShortHeader
	}
	return binary.BigEndian.Uint32(data[0:4]), binary.BigEndian.Uint32(data[4:8]), nil
}

// region copies n bytes of data starting at offset, failing instead of reading past the end.
func region(data []byte, offset int, n uint32) ([]byte, error) {
	if uint64(offset)+uint64(n) > uint64(len(data)) {
		return nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, data[offset:offset+int(n)])
	return out, nil
}

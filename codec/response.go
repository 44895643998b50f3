package codec

import (
	"encoding/binary"

	"node-rpc/message"
)

// EncodeResponse writes resp as [status][bodyLen][body], using the representative
// code of the status band.
func EncodeResponse(resp message.Response) []byte {
	buf := make([]byte, HeaderSize+len(resp.Body))

	binary.BigEndian.PutUint32(buf[0:4], StatusCode(resp.Status))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(resp.Body)))
	copy(buf[HeaderSize:], resp.Body)
	return buf
}

// DecodeResponse parses a response frame. Any code inside a status band is accepted.
func DecodeResponse(data []byte) (message.Response, error) {
	code, bodyLen, err := header(data)
	if err != nil {
		return message.Response{}, err
	}

	status, ok := StatusFromCode(code)
	if !ok {
		return message.Response{}, ErrStatusCode
	}

	body, err := region(data, HeaderSize, bodyLen)
	if err != nil {
		return message.Response{}, err
	}
	return message.Response{Status: status, Body: body}, nil
}

// ResponseFrameSize returns the full frame size declared by a response header.
func ResponseFrameSize(hdr []byte) (uint64, error) {
	_, bodyLen, err := header(hdr)
	if err != nil {
		return 0, err
	}
	return uint64(HeaderSize) + uint64(bodyLen), nil
}

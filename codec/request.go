package codec

import (
	"encoding/binary"

	"node-rpc/message"
)

// EncodeRequest writes req as [nameLen][dataLen][name][data].
// The result is always HeaderSize + len(name) + len(data) bytes long.
func EncodeRequest(req message.Request) []byte {
	buf := make([]byte, HeaderSize+len(req.Name)+len(req.Data))

	binary.BigEndian.PutUint32(buf[0:4], uint32(len(req.Name)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(req.Data)))

	offset := HeaderSize
	offset += copy(buf[offset:], req.Name)
	copy(buf[offset:], req.Data)
	return buf
}

// DecodeRequest parses a request frame. Bytes after the declared regions are ignored.
// An empty name decodes successfully; rejecting it is up to the caller.
func DecodeRequest(data []byte) (message.Request, error) {
	nameLen, dataLen, err := header(data)
	if err != nil {
		return message.Request{}, err
	}

	name, err := region(data, HeaderSize, nameLen)
	if err != nil {
		return message.Request{}, err
	}
	payload, err := region(data, HeaderSize+int(nameLen), dataLen)
	if err != nil {
		return message.Request{}, err
	}

	return message.Request{Name: string(name), Data: payload}, nil
}

// RequestFrameSize returns the full frame size declared by a request header.
func RequestFrameSize(hdr []byte) (uint64, error) {
	nameLen, dataLen, err := header(hdr)
	if err != nil {
		return 0, err
	}
	return uint64(HeaderSize) + uint64(nameLen) + uint64(dataLen), nil
}

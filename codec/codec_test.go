package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"node-rpc/message"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []message.Request{
		message.NewRequest("helo", []byte("distribution")),
		message.NewRequest("redy", nil),
		message.NewRequest("名前", []byte{0x00, 0xff, 0x10}),
		message.NewRequest("echo", bytes.Repeat([]byte("x"), 4096)),
	}

	for _, req := range cases {
		data := EncodeRequest(req)
		if len(data) != HeaderSize+len(req.Name)+len(req.Data) {
			t.Fatalf("%q: encoded length %d, want %d", req.Name, len(data), HeaderSize+len(req.Name)+len(req.Data))
		}

		decoded, err := DecodeRequest(data)
		if err != nil {
			t.Fatalf("%q: DecodeRequest failed: %v", req.Name, err)
		}
		if decoded.Name != req.Name {
			t.Errorf("Name mismatch: got %q, want %q", decoded.Name, req.Name)
		}
		if !bytes.Equal(decoded.Data, req.Data) {
			t.Errorf("%q: Data mismatch: got %v, want %v", req.Name, decoded.Data, req.Data)
		}
	}
}

func TestRequestWireLayout(t *testing.T) {
	data := EncodeRequest(message.NewRequest("echo", []byte("hi")))
	want := []byte{
		0, 0, 0, 4, // nameLen
		0, 0, 0, 2, // dataLen
		'e', 'c', 'h', 'o',
		'h', 'i',
	}
	if !bytes.Equal(data, want) {
		t.Fatalf("wire bytes mismatch:\n got  %v\n want %v", data, want)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []message.Response{
		message.EmptyOk,
		message.EmptyBusy,
		message.TextResponse(message.ClientFail, "request name unsupported"),
		message.TextResponse(message.ServerFail, "boom"),
		message.TextResponse(message.Ok, "distribution\t127.0.0.1\t5000\n"),
	}

	for _, resp := range cases {
		decoded, err := DecodeResponse(EncodeResponse(resp))
		if err != nil {
			t.Fatalf("%s: DecodeResponse failed: %v", resp.Status, err)
		}
		if decoded.Status != resp.Status {
			t.Errorf("Status mismatch: got %s, want %s", decoded.Status, resp.Status)
		}
		if !bytes.Equal(decoded.Body, resp.Body) && len(decoded.Body)+len(resp.Body) != 0 {
			t.Errorf("%s: Body mismatch: got %q, want %q", resp.Status, decoded.Body, resp.Body)
		}
	}
}

func TestResponseWireLayout(t *testing.T) {
	data := EncodeResponse(message.TextResponse(message.Busy, "ab"))
	want := []byte{0, 0, 0x01, 0x2c, 0, 0, 0, 2, 'a', 'b'}
	if !bytes.Equal(data, want) {
		t.Fatalf("wire bytes mismatch:\n got  %v\n want %v", data, want)
	}
}

func TestDecodeShortBuffers(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		buf := make([]byte, n)
		if _, err := DecodeRequest(buf); !errors.Is(err, ErrShortHeader) {
			t.Errorf("DecodeRequest(%d bytes): expect ErrShortHeader, got %v", n, err)
		}
		if _, err := DecodeResponse(buf); !errors.Is(err, ErrShortHeader) {
			t.Errorf("DecodeResponse(%d bytes): expect ErrShortHeader, got %v", n, err)
		}
	}
}

func TestDecodeDeclaredLengthOverrun(t *testing.T) {
	req := EncodeRequest(message.NewRequest("echo", []byte("hi")))

	// Name region runs past the end.
	bad := append([]byte(nil), req...)
	binary.BigEndian.PutUint32(bad[0:4], 100)
	if _, err := DecodeRequest(bad); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expect ErrTruncated for oversized name, got %v", err)
	}

	// Data region runs past the end.
	bad = append([]byte(nil), req...)
	binary.BigEndian.PutUint32(bad[4:8], 3)
	if _, err := DecodeRequest(bad); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expect ErrTruncated for oversized data, got %v", err)
	}

	// Lengths whose sum overflows 32 bits.
	bad = append([]byte(nil), req...)
	binary.BigEndian.PutUint32(bad[0:4], 0xffffffff)
	binary.BigEndian.PutUint32(bad[4:8], 0xffffffff)
	if _, err := DecodeRequest(bad); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expect ErrTruncated for overflowing lengths, got %v", err)
	}

	resp := EncodeResponse(message.TextResponse(message.Ok, "body"))
	binary.BigEndian.PutUint32(resp[4:8], 0xffffffff)
	if _, err := DecodeResponse(resp); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expect ErrTruncated for oversized body, got %v", err)
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	data := append(EncodeRequest(message.NewRequest("noop", nil)), 0xde, 0xad)
	req, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if req.Name != "noop" || len(req.Data) != 0 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestDecodeEmptyName(t *testing.T) {
	req, err := DecodeRequest(EncodeRequest(message.Request{}))
	if err != nil {
		t.Fatalf("empty name must decode, got %v", err)
	}
	if req.Name != "" {
		t.Fatalf("expect empty name, got %q", req.Name)
	}
}

func TestStatusBanding(t *testing.T) {
	frame := func(code uint32) []byte {
		buf := make([]byte, HeaderSize)
		binary.BigEndian.PutUint32(buf[0:4], code)
		return buf
	}

	cases := []struct {
		code   uint32
		status message.Status
	}{
		{200, message.Ok},
		{250, message.Ok},
		{299, message.Ok},
		{350, message.Busy},
		{450, message.ClientFail},
		{550, message.ServerFail},
		{599, message.ServerFail},
	}
	for _, tc := range cases {
		resp, err := DecodeResponse(frame(tc.code))
		if err != nil {
			t.Fatalf("code %d: unexpected error %v", tc.code, err)
		}
		if resp.Status != tc.status {
			t.Errorf("code %d: got %s, want %s", tc.code, resp.Status, tc.status)
		}
	}

	for _, code := range []uint32{0, 150, 199, 600, 650} {
		if _, err := DecodeResponse(frame(code)); !errors.Is(err, ErrStatusCode) {
			t.Errorf("code %d: expect ErrStatusCode, got %v", code, err)
		}
	}
}

func TestFrameSize(t *testing.T) {
	size, err := RequestFrameSize(EncodeRequest(message.NewRequest("echo", []byte("hi"))))
	if err != nil || size != 14 {
		t.Fatalf("RequestFrameSize = %d, %v; want 14", size, err)
	}
	size, err = ResponseFrameSize(EncodeResponse(message.TextResponse(message.Ok, "abc")))
	if err != nil || size != 11 {
		t.Fatalf("ResponseFrameSize = %d, %v; want 11", size, err)
	}
	if _, err := RequestFrameSize([]byte{1, 2}); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expect ErrShortHeader, got %v", err)
	}
}

package tcp_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/omochice/toy-voice-chat/internal/transport"
	"github.com/omochice/toy-voice-chat/internal/transport/tcp"
)

func TestStream_ImplementsInterface(t *testing.T) {
	var _ transport.Stream = (*tcp.Stream)(nil)
}

func TestStream_ReadLines(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	stream := tcp.NewStream(client, nil, tcp.Options{})

	go func() {
		server.Write([]byte("type:login|username:alice\r\n\n\ntype:logout\ntype:get_groups"))
		server.Close()
	}()

	want := []string{"type:login|username:alice", "type:logout", "type:get_groups"}
	for _, w := range want {
		f, err := stream.Read(context.Background())
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if f.Kind != transport.FrameText {
			t.Errorf("Read() kind = %v, want TEXT", f.Kind)
		}
		if string(f.Payload) != w {
			t.Errorf("Read() = %q, want %q", f.Payload, w)
		}
	}

	if _, err := stream.Read(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Read() after last line error = %v, want io.EOF", err)
	}
}

func TestStream_WriteText(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	stream := tcp.NewStream(client, nil, tcp.Options{})

	go func() {
		if err := stream.Write(context.Background(), transport.TextFrame("type:login_success|username:alice")); err != nil {
			t.Errorf("Write() error = %v", err)
		}
	}()

	line, err := bufio.NewReader(server).ReadString('\n')
	if err != nil {
		t.Fatalf("server read error: %v", err)
	}
	if line != "type:login_success|username:alice\n" {
		t.Errorf("server received %q", line)
	}
}

func TestStream_BinaryRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	writer := tcp.NewStream(client, nil, tcp.Options{})
	reader := tcp.NewStream(server, nil, tcp.Options{})

	payload := bytes.Repeat([]byte{0x01, 0x00, 0xff}, 700)
	go func() {
		writer.Write(context.Background(), transport.BinaryFrame(payload))
		writer.Write(context.Background(), transport.TextFrame("type:logout"))
	}()

	f, err := reader.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if f.Kind != transport.FrameBinary || !bytes.Equal(f.Payload, payload) {
		t.Errorf("Read() = kind %v, %d bytes; want BINARY, %d bytes", f.Kind, len(f.Payload), len(payload))
	}

	f, err = reader.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if f.Kind != transport.FrameText || string(f.Payload) != "type:logout" {
		t.Errorf("Read() = %v %q, want text line after binary frame", f.Kind, f.Payload)
	}
}

func TestStream_RejectsOversizedFrames(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "long line", data: append(bytes.Repeat([]byte("a"), 64), '\n')},
		{name: "large binary", data: []byte{0x00, 0x80, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, client := net.Pipe()
			defer server.Close()
			defer client.Close()

			stream := tcp.NewStream(client, nil, tcp.Options{MaxFrameSize: 32})
			go func() {
				server.Write(tt.data)
			}()

			if _, err := stream.Read(context.Background()); !errors.Is(err, transport.ErrFrameTooLarge) {
				t.Errorf("Read() error = %v, want ErrFrameTooLarge", err)
			}
		})
	}
}

func TestStream_TruncatedBinaryFrame(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	stream := tcp.NewStream(client, nil, tcp.Options{})
	go func() {
		server.Write([]byte{0x00, 0x10, 0x01, 0x02})
		server.Close()
	}()

	if _, err := stream.Read(context.Background()); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Read() error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestStream_UsesBufferedReader(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	br := bufio.NewReader(client)
	go func() {
		server.Write([]byte("type:logout\n"))
	}()
	// Peek the way protocol detection does, then hand the reader over.
	if _, err := br.Peek(4); err != nil {
		t.Fatalf("Peek() error = %v", err)
	}

	stream := tcp.NewStream(client, br, tcp.Options{})
	f, err := stream.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(f.Payload) != "type:logout" {
		t.Errorf("Read() = %q, peeked bytes were lost", f.Payload)
	}
}

func TestStream_Close(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	stream := tcp.NewStream(client, nil, tcp.Options{})
	if err := stream.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if _, err := stream.Read(context.Background()); err == nil {
		t.Error("expected error after close, got nil")
	}
}

func TestStream_RemoteAddr(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			defer c.Close()
		}
	}()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer conn.Close()

	stream := tcp.NewStream(conn, nil, tcp.Options{})
	addr, ok := stream.RemoteAddr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("RemoteAddr() = %T, want *net.TCPAddr", stream.RemoteAddr())
	}
	if !addr.IP.IsLoopback() {
		t.Errorf("RemoteAddr() IP = %v, want loopback", addr.IP)
	}
}

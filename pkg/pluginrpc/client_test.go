package pluginrpc

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyocore/pkg/ferrors"
)

// pipeConn joins two in-process pipes into a Conn, standing in for a
// subprocess's stdio.
type pipeConn struct {
	io.Reader
	io.Writer
	closers []io.Closer
}

func (p *pipeConn) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// fakePlugin runs a scripted plugin on the far side of the pipes: it sends
// hello, then answers every invoke with answer(invoke).
func fakePlugin(t *testing.T, hello HelloMessage, answer func(InvokeMessage) (MessageType, interface{})) *pipeConn {
	t.Helper()

	hostReader, pluginWriter := io.Pipe()
	pluginReader, hostWriter := io.Pipe()

	go func() {
		enc := NewEncoder(pluginWriter)
		dec := NewDecoder(pluginReader)

		if err := enc.Encode(MessageTypeHello, &hello); err != nil {
			return
		}
		for {
			msg, err := dec.Decode()
			if err != nil {
				return
			}
			switch msg.Type {
			case MessageTypeInvoke:
				var invoke InvokeMessage
				if err := ParseData(msg.Data, &invoke); err != nil {
					return
				}
				msgType, payload := answer(invoke)
				if err := enc.Encode(msgType, payload); err != nil {
					return
				}
			case MessageTypeShutdown:
				pluginWriter.Close()
				return
			}
		}
	}()

	return &pipeConn{
		Reader:  hostReader,
		Writer:  hostWriter,
		closers: []io.Closer{hostWriter, hostReader},
	}
}

func echoHello() HelloMessage {
	return HelloMessage{
		ProtocolVersion: ProtocolVersion,
		PluginName:      "echo",
		PluginVersion:   "1.2.3",
		Actions:         []string{"prepareEnvironment"},
		ModuleActions:   map[string][]string{"container": {"build"}},
	}
}

func TestClient_HelloAndInvoke(t *testing.T) {
	conn := fakePlugin(t, echoHello(), func(invoke InvokeMessage) (MessageType, interface{}) {
		return MessageTypeResult, &ResultMessage{ID: invoke.ID, Output: invoke.Params}
	})

	client, err := NewClient(conn, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	if client.Hello().PluginName != "echo" || client.Hello().PluginVersion != "1.2.3" {
		t.Fatalf("hello = %+v", client.Hello())
	}

	out, err := client.Invoke(context.Background(), "build", "container", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if string(out) != `{"x":1}` {
		t.Errorf("output = %s", out)
	}
}

func TestClient_InvokeError(t *testing.T) {
	conn := fakePlugin(t, echoHello(), func(invoke InvokeMessage) (MessageType, interface{}) {
		return MessageTypeError, &ErrorMessage{ID: invoke.ID, Message: "handler exploded"}
	})

	client, err := NewClient(conn, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	_, err = client.Invoke(context.Background(), "build", "container", nil)
	if !ferrors.IsPluginError(err) {
		t.Fatalf("expected PluginError, got %v", err)
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	// A plugin that never answers: the invoke must unblock on ctx.
	conn := fakePlugin(t, echoHello(), func(invoke InvokeMessage) (MessageType, interface{}) {
		select {} // block forever
	})

	client, err := NewClient(conn, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.Invoke(ctx, "build", "container", nil); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFactory_DescriptorInstallsForwardingHandlers(t *testing.T) {
	conn := fakePlugin(t, echoHello(), func(invoke InvokeMessage) (MessageType, interface{}) {
		return MessageTypeResult, &ResultMessage{ID: invoke.ID, Output: json.RawMessage(`"pong"`)}
	})

	client, err := NewClient(conn, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	d := descriptorFor(client)
	if d.Version != "1.2.3" {
		t.Errorf("descriptor version = %s", d.Version)
	}
	if _, ok := d.Actions["prepareEnvironment"]; !ok {
		t.Fatal("plugin-level action missing from descriptor")
	}
	spec, ok := d.ModuleActions["container"]["build"]
	if !ok {
		t.Fatal("module action missing from descriptor")
	}

	out, err := spec.Handler(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("forwarding handler: %v", err)
	}
	if string(out) != `"pong"` {
		t.Errorf("output = %s", out)
	}
}

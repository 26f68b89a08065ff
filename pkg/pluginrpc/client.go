package pluginrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/froyocore/pkg/ferrors"
)

// helloTimeout bounds how long a freshly started plugin may take to
// announce itself.
const helloTimeout = 15 * time.Second

// Conn is the byte stream a Client speaks over: the plugin's stdin (write
// side) and stdout (read side). Subprocess plugins get one from Start;
// tests supply an in-memory pipe.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Client drives one plugin over a Conn: it consumes the HELLO, then
// multiplexes concurrent Invoke calls by correlation id.
type Client struct {
	enc   *Encoder
	conn  Conn
	hello *HelloMessage
	log   zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan *Message
	closed  bool
	readErr error
}

// NewClient attaches to conn, reads the plugin's HELLO, and starts the
// read loop. The caller owns conn's lifetime via Close.
func NewClient(conn Conn, log zerolog.Logger) (*Client, error) {
	c := &Client{
		enc:     NewEncoder(conn),
		conn:    conn,
		log:     log,
		pending: make(map[string]chan *Message),
	}

	dec := NewDecoder(conn)
	helloCh := make(chan *HelloMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		hello, err := dec.DecodeHello()
		if err != nil {
			errCh <- err
			return
		}
		helloCh <- hello
	}()

	select {
	case hello := <-helloCh:
		c.hello = hello
	case err := <-errCh:
		conn.Close()
		return nil, ferrors.NewPluginError("plugin failed to announce itself", err)
	case <-time.After(helloTimeout):
		conn.Close()
		return nil, ferrors.NewPluginError("timed out waiting for plugin HELLO", nil)
	}

	go c.readLoop(dec)
	return c, nil
}

// Hello returns the plugin's self-description.
func (c *Client) Hello() *HelloMessage { return c.hello }

// Invoke calls one action on the plugin and blocks until its RESULT or
// ERROR arrives, or ctx is done.
func (c *Client) Invoke(ctx context.Context, action, moduleType string, params json.RawMessage) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan *Message, 1)

	c.mu.Lock()
	if c.closed {
		err := c.readErr
		c.mu.Unlock()
		return nil, ferrors.NewPluginError("plugin connection is closed", err).WithResource(c.hello.PluginName)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	invoke := InvokeMessage{ID: id, Action: action, ModuleType: moduleType, Params: params}
	if err := c.enc.Encode(MessageTypeInvoke, &invoke); err != nil {
		return nil, ferrors.NewPluginError(fmt.Sprintf("sending %s invoke", action), err).WithResource(c.hello.PluginName)
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			return nil, ferrors.NewPluginError("plugin exited before answering", err).WithResource(c.hello.PluginName)
		}
		return c.decodeAnswer(action, msg)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) decodeAnswer(action string, msg *Message) (json.RawMessage, error) {
	switch msg.Type {
	case MessageTypeResult:
		var res ResultMessage
		if err := ParseData(msg.Data, &res); err != nil {
			return nil, ferrors.NewPluginError(fmt.Sprintf("malformed RESULT for %s", action), err).WithResource(c.hello.PluginName)
		}
		return res.Output, nil
	case MessageTypeError:
		var perr ErrorMessage
		if err := ParseData(msg.Data, &perr); err != nil {
			return nil, ferrors.NewPluginError(fmt.Sprintf("malformed ERROR for %s", action), err).WithResource(c.hello.PluginName)
		}
		return nil, ferrors.NewPluginError(perr.Message, nil).WithResource(c.hello.PluginName).WithOperation(action)
	default:
		return nil, ferrors.NewPluginError(fmt.Sprintf("unexpected %s answer for %s", msg.Type, action), nil).WithResource(c.hello.PluginName)
	}
}

// readLoop routes RESULT/ERROR frames to their pending invokes until the
// stream ends, then fails everything still outstanding.
func (c *Client) readLoop(dec *Decoder) {
	for {
		msg, err := dec.Decode()
		if err != nil {
			c.failAll(err)
			return
		}

		var id string
		switch msg.Type {
		case MessageTypeResult:
			var res ResultMessage
			if ParseData(msg.Data, &res) == nil {
				id = res.ID
			}
		case MessageTypeError:
			var perr ErrorMessage
			if ParseData(msg.Data, &perr) == nil {
				id = perr.ID
			}
			if id == "" {
				// A fatal, uncorrelated plugin error poisons the stream.
				c.failAll(fmt.Errorf("plugin reported fatal error"))
				return
			}
		default:
			c.log.Warn().Str("type", string(msg.Type)).Msg("ignoring unexpected plugin frame")
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[id]
		c.mu.Unlock()
		if !ok {
			c.log.Warn().Str("id", id).Msg("plugin answered an unknown invoke id")
			continue
		}
		ch <- msg
	}
}

func (c *Client) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != io.EOF {
		c.readErr = err
	}
	c.closed = true
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[string]chan *Message)
}

// Close asks the plugin to shut down and closes the connection. Writing the
// SHUTDOWN frame is given five seconds; a plugin that has stopped reading
// its input does not hold Close up past that.
func (c *Client) Close() error {
	sent := make(chan struct{})
	go func() {
		_ = c.enc.Encode(MessageTypeShutdown, &ShutdownMessage{Reason: "host shutdown"})
		close(sent)
	}()
	select {
	case <-sent:
	case <-time.After(5 * time.Second):
	}
	return c.conn.Close()
}

// procConn adapts a subprocess's stdio to Conn.
type procConn struct {
	io.Reader
	io.WriteCloser
	cmd *exec.Cmd
}

func (p *procConn) Close() error {
	err := p.WriteCloser.Close()
	if waitErr := p.cmd.Wait(); waitErr != nil && err == nil {
		err = waitErr
	}
	return err
}

// Start launches the plugin binary at path and attaches a Client to its
// stdio. Stderr is forwarded to the host logger line by line.
func Start(ctx context.Context, path string, log zerolog.Logger, args ...string) (*Client, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, ferrors.NewPluginError("opening plugin stdin", err).WithPath(path)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, ferrors.NewPluginError("opening plugin stdout", err).WithPath(path)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, ferrors.NewPluginError("opening plugin stderr", err).WithPath(path)
	}
	if err := cmd.Start(); err != nil {
		return nil, ferrors.NewPluginError("starting plugin process", err).WithPath(path)
	}

	go forwardStderr(stderr, log.With().Str("plugin", path).Logger())

	return NewClient(&procConn{Reader: stdout, WriteCloser: stdin, cmd: cmd}, log)
}

func forwardStderr(r io.Reader, log zerolog.Logger) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		log.Debug().Str("line", s.Text()).Msg("plugin stderr")
	}
}

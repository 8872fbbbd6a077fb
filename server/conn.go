package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Wire framing. Every server message ends in a NUL byte. A message whose text
// ends in NoticeMark is informational and the client answers it with Ack; any
// other message is a prompt answered with one line. Goodbye tells the client
// to hang up.
const (
	FrameEnd   = '\x00'
	NoticeMark = "^"
	Ack        = "ACK"
	Goodbye    = "Client logging out...\n"
)

// ErrDisconnected means the peer went away while the server waited for input.
var ErrDisconnected = errors.New("client disconnected")

// conn is the per-connection exchange state. Nothing in it is shared between
// connections.
type conn struct {
	nc  net.Conn
	r   *bufio.Reader
	w   *bufio.Writer
	id  string
	log *zap.Logger
}

func newConn(nc net.Conn, id string, log *zap.Logger) *conn {
	return &conn{
		nc:  nc,
		r:   bufio.NewReader(nc),
		w:   bufio.NewWriter(nc),
		id:  id,
		log: log,
	}
}

func (c *conn) send(text string) error {
	if _, err := c.w.WriteString(text); err != nil {
		return ErrDisconnected
	}
	if err := c.w.WriteByte(FrameEnd); err != nil {
		return ErrDisconnected
	}
	if err := c.w.Flush(); err != nil {
		return ErrDisconnected
	}
	return nil
}

func (c *conn) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", ErrDisconnected
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ask sends a prompt and returns the reply with surrounding space removed.
func (c *conn) ask(prompt string) (string, error) {
	if err := c.send(prompt); err != nil {
		return "", err
	}
	line, err := c.readLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// askInt asks once for an integer. A reply that does not parse yields
// ok=false so menus can treat it as an invalid choice.
func (c *conn) askInt(prompt string) (n int64, ok bool, err error) {
	s, err := c.ask(prompt)
	if err != nil {
		return 0, false, err
	}
	n, perr := strconv.ParseInt(s, 10, 32)
	return n, perr == nil, nil
}

// askID asks for a positive 32-bit identifier. A malformed reply is reported
// to the client with invalid and ok=false.
func (c *conn) askID(prompt, invalid string) (int32, bool, error) {
	n, ok, err := c.askInt(prompt)
	if err != nil {
		return 0, false, err
	}
	if !ok || n <= 0 {
		return 0, false, c.tell(invalid)
	}
	return int32(n), true, nil
}

// tell sends a notice and waits for the client's acknowledgement.
func (c *conn) tell(msg string) error {
	if err := c.send(msg + NoticeMark); err != nil {
		return err
	}
	line, err := c.readLine()
	if err != nil {
		return err
	}
	if line != Ack {
		c.log.Debug("unexpected acknowledgement", zap.String("got", line))
	}
	return nil
}

func (c *conn) tellf(format string, args ...any) error {
	return c.tell(fmt.Sprintf(format, args...))
}

func (c *conn) bye() error {
	return c.send(Goodbye)
}

func itoa(n int32) string { return strconv.FormatInt(int64(n), 10) }

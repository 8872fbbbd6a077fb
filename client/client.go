// Package client is the interactive terminal side of the bank protocol.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/bankline/recordbank/server"
)

// Client relays server frames to Out and answers prompts from In.
type Client struct {
	In  io.Reader
	Out io.Writer
	// ReadPassword reads one masked line. When nil, passwords are read from
	// In like any other answer.
	ReadPassword func() (string, error)
}

// New returns a client on the process terminal, masking passwords when stdin
// is a terminal.
func New() *Client {
	c := &Client{In: os.Stdin, Out: os.Stdout}
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		c.ReadPassword = func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(c.Out)
			return strings.TrimSpace(string(b)), err
		}
	}
	return c
}

// Run connects to addr and runs the session until the server says goodbye,
// the connection drops or ctx is done.
func (c *Client) Run(ctx context.Context, addr string) error {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer nc.Close()

	stop := context.AfterFunc(ctx, func() { nc.Close() })
	defer stop()
	return c.Session(nc)
}

// Session runs the protocol over an established connection.
func (c *Client) Session(nc io.ReadWriter) error {
	frames := bufio.NewReader(nc)
	input := bufio.NewReader(c.In)
	for {
		frame, err := frames.ReadString(server.FrameEnd)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("server closed the connection")
			}
			return err
		}
		frame = strings.TrimSuffix(frame, string(server.FrameEnd))

		if frame == server.Goodbye {
			fmt.Fprint(c.Out, frame)
			return nil
		}
		if text, ok := strings.CutSuffix(frame, server.NoticeMark); ok {
			fmt.Fprintln(c.Out, text)
			if _, err := io.WriteString(nc, server.Ack+"\n"); err != nil {
				return err
			}
			continue
		}

		fmt.Fprint(c.Out, frame)
		answer, err := c.answer(input, frame)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(nc, answer+"\n"); err != nil {
			return err
		}
	}
}

func (c *Client) answer(input *bufio.Reader, prompt string) (string, error) {
	if c.ReadPassword != nil && strings.Contains(strings.ToLower(prompt), "password:") {
		return c.ReadPassword()
	}
	line, err := input.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

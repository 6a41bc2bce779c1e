// Package wire implements the replica-to-master line protocol described in
// spec.md §6: optional AUTH, then FULLSYNC/INCRSYNC request lines, each
// answered with a one-line reply whose leading byte flags failure, with
// binary payloads (full dumps, binlog entry batches) riding the same
// connection. Framing above the line protocol is treated as opaque by the
// replication core; this package is the one concrete implementation of the
// replicore.Client/BlockingClient contracts.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"
)

// defaultBufSize is the default buffered-I/O size for a connection.
const defaultBufSize = 64 << 10

// Client is a line-protocol connection to a peer, dialed by a slave
// routine or accepted by the master side. It implements
// replicore.Client/replicore.BlockingClient.
type Client struct {
	conn    net.Conn
	bufSize int
	br      *bufio.Reader
	bw      *bufio.Writer
}

// NewClient wraps conn for line-protocol use. Used on the accept side,
// where the connection is already established.
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:    conn,
		bufSize: defaultBufSize,
		br:      bufio.NewReaderSize(conn, defaultBufSize),
		bw:      bufio.NewWriterSize(conn, defaultBufSize),
	}
}

// NewBlockingClient returns an unconnected Client sized per bufSize, ready
// for Connect. Used on the dial side by the slave routine, matching the
// "createBlockingClient(bufSize)" contract in spec.md §6.
func NewBlockingClient(bufSize int) *Client {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	return &Client{bufSize: bufSize}
}

// Connect dials host:port with the given timeout and wraps the resulting
// connection for line-protocol I/O.
func (c *Client) Connect(host string, port int, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprint(port)), timeout)
	if err != nil {
		return err
	}
	c.conn = conn
	c.br = bufio.NewReaderSize(conn, c.bufSize)
	c.bw = bufio.NewWriterSize(conn, c.bufSize)
	return nil
}

// WriteLine writes s terminated with "\r\n", matching the AUTH/FULLSYNC/
// INCRSYNC line framing in spec.md §6.
func (c *Client) WriteLine(s string, timeout time.Duration) error {
	if timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	if _, err := c.bw.WriteString(s); err != nil {
		return err
	}
	if _, err := c.bw.WriteString("\r\n"); err != nil {
		return err
	}
	return c.bw.Flush()
}

// ReadLine reads one "\r\n"-terminated line, with the terminator stripped.
func (c *Client) ReadLine(timeout time.Duration) (string, error) {
	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", err
		}
		defer c.conn.SetReadDeadline(time.Time{})
	}

	line, err := c.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}

// GetRemoteRepr returns the peer's address as reported by the underlying
// connection, used for status reporting (§4.8 sync_dest.remote).
func (c *Client) GetRemoteRepr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Reader returns the buffered reader backing chunked payload reads that
// ride alongside the line protocol (full dumps, binlog entry batches).
func (c *Client) Reader() io.Reader { return c.br }

// Writer returns a writer backing chunked payload writes. Every Write
// flushes immediately so bytes reach the peer without needing a line write
// to trigger the flush.
func (c *Client) Writer() io.Writer { return &flushingWriter{c.bw} }

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// flushingWriter flushes the buffered writer after every Write, since
// callers of replicore.Client.Writer() expect writes to be visible to the
// peer without an explicit line write to trigger a flush.
type flushingWriter struct {
	bw *bufio.Writer
}

func (w *flushingWriter) Write(p []byte) (int, error) {
	n, err := w.bw.Write(p)
	if err != nil {
		return n, err
	}
	return n, w.bw.Flush()
}

// Package wire implements the concrete HTTP/1.1 wire-level collaborator the
// core design treats as an external parser (see the request lifecycle state
// machine): incremental request-line/header/body reads and response writes
// over a net.Conn.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/searchktools/embedserver/pools"
)

var (
	// ErrMalformedRequestLine is returned when the request line cannot be
	// split into method, path and protocol version.
	ErrMalformedRequestLine = errors.New("wire: malformed request line")

	// ErrChunkedUnsupported is returned for a Transfer-Encoding: chunked
	// request; streaming/chunked bodies are out of scope for this module.
	ErrChunkedUnsupported = errors.New("wire: chunked transfer encoding not supported")

	// ErrLineTooLong is returned when a request or header line exceeds
	// maxLineLength. The check runs after the whole line has been read.
	ErrLineTooLong = errors.New("wire: header line exceeds limit")
)

const maxLineLength = 64 * 1024

// Conn wraps a net.Conn with buffered incremental HTTP/1.1 framing.
type Conn struct {
	nc      net.Conn
	br      *bufio.Reader
	bufPool *pools.BytePool
	fd      int

	contentLength int64
	bodyRead      int64
}

// NewConn wraps nc for incremental HTTP/1.1 reads/writes. bufPool may be nil,
// in which case body chunks are allocated directly.
func NewConn(nc net.Conn, bufPool *pools.BytePool) *Conn {
	return &Conn{
		nc:            nc,
		br:            bufio.NewReaderSize(nc, 4096),
		bufPool:       bufPool,
		fd:            -1,
		contentLength: -1,
	}
}

// Raw returns the underlying net.Conn.
func (c *Conn) Raw() net.Conn { return c.nc }

// Rebind attaches Conn to a new net.Conn, reusing its buffered reader. Used
// to pull a Conn wrapper out of a pools.ConnectionPool for a fresh accept.
func (c *Conn) Rebind(nc net.Conn) {
	c.nc = nc
	c.br.Reset(nc)
	c.contentLength = -1
	c.bodyRead = 0
}

// Reset satisfies pools.ConnectionPoolable: it drops the reference to the
// underlying connection so a pooled Conn doesn't keep a closed socket alive.
func (c *Conn) Reset() {
	c.nc = nil
	c.fd = -1
	c.contentLength = -1
	c.bodyRead = 0
}

// SetFD satisfies pools.ConnectionPoolable, recording the descriptor number
// for diagnostics in poller-driven start modes.
func (c *Conn) SetFD(fd int) { c.fd = fd }

// ReadRequestLine blocks until a full "METHOD PATH PROTO" line is buffered.
func (c *Conn) ReadRequestLine() (method, path, proto string, err error) {
	line, err := c.readLine()
	if err != nil {
		return "", "", "", err
	}

	sp1 := strings.IndexByte(line, ' ')
	if sp1 < 0 {
		return "", "", "", ErrMalformedRequestLine
	}
	rest := line[sp1+1:]
	sp2 := strings.IndexByte(rest, ' ')
	if sp2 < 0 {
		return "", "", "", ErrMalformedRequestLine
	}

	method = line[:sp1]
	path = rest[:sp2]
	proto = rest[sp2+1:]
	return method, path, proto, nil
}

// ReadHeaders accumulates header lines until the blank-line terminator,
// tolerating bare "\n" line endings. Header names/values failing RFC 7230
// token/field-value grammar are silently dropped rather than rejecting the
// whole request, matching the tolerant enumeration behaviour of the
// underlying parser this type stands in for.
func (c *Conn) ReadHeaders() (http.Header, error) {
	header := make(http.Header)

	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}

		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])

		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			continue
		}
		header.Add(textproto.CanonicalMIMEHeaderKey(name), value)
	}

	if te := header.Get("Transfer-Encoding"); strings.EqualFold(te, "chunked") {
		return header, ErrChunkedUnsupported
	}

	c.contentLength = -1
	if cl := header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err == nil && n >= 0 {
			c.contentLength = n
		}
	}
	c.bodyRead = 0

	return header, nil
}

// HasBody reports whether ReadHeaders observed a Content-Length greater than
// zero.
func (c *Conn) HasBody() bool {
	return c.contentLength > 0
}

// ContentLength returns the Content-Length observed during ReadHeaders, or -1
// if none was present.
func (c *Conn) ContentLength() int64 { return c.contentLength }

// ReadBodyChunk returns up to max bytes of body, honouring Content-Length.
// done is true once the full body (or, for bodyless requests, immediately)
// has been delivered.
func (c *Conn) ReadBodyChunk(max int) (chunk []byte, done bool, err error) {
	if c.contentLength <= 0 || c.bodyRead >= c.contentLength {
		return nil, true, nil
	}

	remaining := c.contentLength - c.bodyRead
	want := int64(max)
	if remaining < want {
		want = remaining
	}

	var buf []byte
	if c.bufPool != nil {
		buf = c.bufPool.Get(int(want))
	} else {
		buf = make([]byte, want)
	}

	n, err := readFull(c.br, buf)
	if err != nil && n == 0 {
		return nil, false, err
	}

	c.bodyRead += int64(n)
	done = c.bodyRead >= c.contentLength
	return buf[:n], done, nil
}

func readFull(br *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := br.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

func (c *Conn) readLine() (string, error) {
	line, err := c.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) > maxLineLength {
		return "", ErrLineTooLong
	}
	line = strings.TrimRight(line, "\r\n")
	return line, nil
}

// WriteResponse writes status/header/body as a complete HTTP/1.1 response.
func (c *Conn) WriteResponse(status int, header http.Header, body []byte) error {
	bw := bufio.NewWriter(c.nc)

	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status)); err != nil {
		return err
	}

	if header.Get("Content-Length") == "" {
		header = header.Clone()
		header.Set("Content-Length", strconv.Itoa(len(body)))
	}

	for name, values := range header {
		for _, v := range values {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", name, v); err != nil {
				return err
			}
		}
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := bw.Write(body); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

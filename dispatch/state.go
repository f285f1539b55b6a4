package dispatch

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/searchktools/embedserver/endpoint"
	"github.com/searchktools/embedserver/observability"
	"github.com/searchktools/embedserver/router"
	"github.com/searchktools/embedserver/wire"
)

// State names the point a request has reached in the lifecycle.
type State int

const (
	StatePreface State = iota
	StateHeadOnly
	StateBodyAwaiting
	StateBodyComplete
	StateDispatched
	StateCompleted
)

// Pipeline drives one request from the raw URI through to a written
// response. A Pipeline is safe for concurrent use by multiple connections;
// per-request mutable state lives in requestState, not in the Pipeline.
type Pipeline struct {
	Routes *router.Table

	// SingleResource, when set, bypasses route resolution entirely: every
	// request is dispatched to this handler with an empty capture map,
	// matching the "single universal handler" configuration shortcut.
	SingleResource Handler

	NotFoundHandler            Handler
	MethodNotAllowedHandler    Handler
	MethodNotAcceptableHandler Handler
	InternalErrorHandler       Handler

	// Unescape overrides default path/query decoding. The wire layer does no
	// percent-decoding of its own, so this single path is the only place
	// percent-decoding happens, avoiding the double-unescape hazard the
	// source's unescaper workaround exists for.
	Unescape func(string) string

	BasicAuthEnabled  bool
	DigestAuthEnabled bool

	// PostProcessEnabled, when true, decodes an
	// application/x-www-form-urlencoded body into req.Args the way a GET
	// query string is decoded, instead of leaving form fields only reachable
	// through the raw req.Body bytes.
	PostProcessEnabled bool

	// MaxBodyBytes bounds body accumulation; 0 means unbounded.
	MaxBodyBytes int64

	// Observatory, when set, traces every handler invocation (latency and
	// error rate) keyed by method+path.
	Observatory *observability.Observatory
}

// Register inserts handler against pattern into p.Routes. If
// p.MethodNotAcceptableHandler is already configured at the time of this
// call, it is propagated onto handler (via NotAcceptableSetter) before the
// pattern is inserted, so a handler registered under an active override
// inherits it directly.
func (p *Pipeline) Register(pattern *endpoint.Pattern, handler Handler) {
	PropagateNotAcceptable(handler, p.MethodNotAcceptableHandler)
	p.Routes.Register(pattern, handler)
}

const contentTypeFormURLEncoded = "application/x-www-form-urlencoded"

type requestState struct {
	rawURI  string
	state   State
	method  string
	request *wire.Request
}

// Serve runs one request to completion on conn: reads the request line,
// headers and body, resolves a route, invokes the handler, and writes the
// response. It returns a connection-level error (I/O failure, malformed
// request line) distinct from the dispatch.Error values folded into HTTP
// responses.
func (p *Pipeline) Serve(c *wire.Conn, peerIP string, peerPort int) error {
	method, rawPath, proto, err := c.ReadRequestLine()
	if err != nil {
		writeBadRequestIfClientError(c, err)
		return err
	}

	rs := &requestState{rawURI: rawPath, state: StatePreface, method: method}

	if isBodyful(method) {
		rs.state = StateBodyAwaiting
	} else {
		rs.state = StateHeadOnly
	}

	header, err := c.ReadHeaders()
	if err != nil {
		writeBadRequestIfClientError(c, err)
		return err
	}

	req := wire.AcquireRequest()
	req.Method = method
	req.Version = proto
	req.Headers = header
	req.PeerIP = peerIP
	req.PeerPort = peerPort
	rs.request = req

	if rs.state == StateBodyAwaiting {
		if err := p.readBody(c, req); err != nil {
			wire.ReleaseRequest(req)
			return err
		}
		rs.state = StateBodyComplete
		p.applyFormBody(req)
	}

	p.finalizeConstruction(req, rs.rawURI)

	resp := p.dispatch(req)
	rs.state = StateDispatched

	status, respHeader, body, renderErr := p.render(resp)
	if respHeader == nil {
		respHeader = make(http.Header)
	}

	writeErr := c.WriteResponse(status, respHeader, body)

	if resp != nil {
		resp.Release()
	}
	wire.ReleaseRequest(req)
	_ = renderErr
	rs.state = StateCompleted

	return writeErr
}

// writeBadRequestIfClientError writes a 400 response for the malformed-input
// errors the wire layer reports (bad request line, line too long, chunked
// transfer encoding), matching the requirement that such requests are
// rejected with 400 rather than just dropped. Any other error (closed
// connection, read timeout) is a transport failure, not a client mistake, so
// no response is attempted.
func writeBadRequestIfClientError(c *wire.Conn, err error) {
	if errors.Is(err, wire.ErrMalformedRequestLine) ||
		errors.Is(err, wire.ErrLineTooLong) ||
		errors.Is(err, wire.ErrChunkedUnsupported) {
		c.WriteResponse(http.StatusBadRequest, make(http.Header), []byte("Bad Request"))
	}
}

func (p *Pipeline) readBody(c *wire.Conn, req *wire.Request) error {
	for {
		chunk, done, err := c.ReadBodyChunk(32 * 1024)
		if err != nil {
			return err
		}
		if len(chunk) > 0 {
			req.Body = append(req.Body, chunk...)
			if p.MaxBodyBytes > 0 && int64(len(req.Body)) > p.MaxBodyBytes {
				return io.ErrShortBuffer
			}
		}
		if done {
			return nil
		}
	}
}

// applyFormBody decodes an application/x-www-form-urlencoded body into
// req.Args, the way the underlying form post-processor does for bodyful
// requests. finalizeConstruction runs after this and applies query-string
// args over the same map, so a query argument takes precedence over a form
// field of the same name, matching the order the source library populates
// GET args after POST args.
func (p *Pipeline) applyFormBody(req *wire.Request) {
	if !p.PostProcessEnabled || len(req.Body) == 0 {
		return
	}
	ct := req.Headers.Get("Content-Type")
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	if !strings.EqualFold(strings.TrimSpace(ct), contentTypeFormURLEncoded) {
		return
	}

	values, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return
	}
	for k, vs := range values {
		if len(vs) > 0 {
			req.Args[k] = vs[0]
		}
	}
}

func (p *Pipeline) finalizeConstruction(req *wire.Request, rawURI string) {
	path := rawURI
	var queryStr string
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		queryStr = path[idx+1:]
		path = path[:idx]
	}

	unescape := p.Unescape
	if unescape == nil {
		unescape = defaultUnescape
	}
	req.Path = normalizePath(unescape(path))
	req.QueryString = queryStr

	if queryStr != "" {
		if values, err := url.ParseQuery(queryStr); err == nil {
			for k, vs := range values {
				if len(vs) > 0 {
					req.Args[k] = vs[0]
				}
			}
		}
	}

	if cookieHeader := req.Headers.Get("Cookie"); cookieHeader != "" {
		for _, part := range strings.Split(cookieHeader, ";") {
			part = strings.TrimSpace(part)
			if eq := strings.IndexByte(part, '='); eq > 0 {
				req.Cookies[part[:eq]] = part[eq+1:]
			}
		}
	}

	if auth := req.Headers.Get("Authorization"); auth != "" {
		if p.BasicAuthEnabled && strings.HasPrefix(auth, "Basic ") {
			if decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic ")); err == nil {
				if eq := strings.IndexByte(string(decoded), ':'); eq >= 0 {
					req.BasicAuthUser = string(decoded[:eq])
					req.BasicAuthPass = string(decoded[eq+1:])
				}
			}
		} else if p.DigestAuthEnabled && strings.HasPrefix(auth, "Digest ") {
			req.DigestAuthUser = extractDigestField(auth, "username")
		}
	}
}

func defaultUnescape(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func extractDigestField(header, field string) string {
	needle := field + "="
	idx := strings.Index(header, needle)
	if idx < 0 {
		return ""
	}
	rest := header[idx+len(needle):]
	rest = strings.TrimPrefix(rest, `"`)
	if end := strings.IndexByte(rest, '"'); end >= 0 {
		return rest[:end]
	}
	if end := strings.IndexByte(rest, ','); end >= 0 {
		return rest[:end]
	}
	return rest
}

// dispatch resolves a route and invokes the handler, recovering from any
// handler panic and folding every failure into an appropriate Response.
func (p *Pipeline) dispatch(req *wire.Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = p.renderInternalError(req, nil)
		}
	}()

	var h Handler
	if p.SingleResource != nil {
		h = p.SingleResource
	} else {
		handler, captures, ok := p.Routes.Resolve(req.Path)
		if !ok {
			return p.renderNotFound(req)
		}
		h = handler.(Handler)
		for k, v := range captures {
			req.Args[k] = v
		}
	}

	// Method-mapping happens before the allowance check: an unrecognized
	// method is a 406 regardless of what is_allowed would say about it, the
	// same order the method-dispatch table in the original uses.
	hook, known := methodHook(h, req.Method)
	if !known {
		return p.renderMethodNotAcceptable(req, h)
	}

	if !h.IsAllowed(req.Method) {
		return p.renderMethodNotAllowed(req)
	}

	var r Response
	var hookErr error
	if p.Observatory != nil {
		_ = p.Observatory.TraceHandler(req.Method, req.Path, func() error {
			r, hookErr = hook(req)
			return hookErr
		})
	} else {
		r, hookErr = hook(req)
	}

	if hookErr != nil {
		return p.renderInternalError(req, hookErr)
	}
	return r
}

func (p *Pipeline) render(resp Response) (int, http.Header, []byte, error) {
	if resp == nil {
		body := []byte("Internal Server Error")
		return http.StatusInternalServerError, make(http.Header), body, nil
	}

	status, header, body, err := resp.Render()
	if err == nil {
		return status, header, body, nil
	}

	if IsFileMissing(err) {
		nf := p.renderNotFound(nil)
		s, h, b, rerr := nf.Render()
		if rerr != nil {
			return staticInternalError()
		}
		return s, h, b, nil
	}

	ie := p.renderInternalError(nil, err)
	s, h, b, rerr := ie.Render()
	if rerr != nil {
		return staticInternalError()
	}
	return s, h, b, nil
}

func staticInternalError() (int, http.Header, []byte, error) {
	return http.StatusInternalServerError, make(http.Header), []byte("Internal Server Error"), nil
}

func (p *Pipeline) renderNotFound(req *wire.Request) Response {
	if p.NotFoundHandler != nil {
		if r, err := p.NotFoundHandler.GET(req); err == nil && r != nil {
			return r
		}
	}
	return NewStaticResponse(http.StatusNotFound, []byte("Not Found"))
}

func (p *Pipeline) renderMethodNotAllowed(req *wire.Request) Response {
	if p.MethodNotAllowedHandler != nil {
		if r, err := p.MethodNotAllowedHandler.GET(req); err == nil && r != nil {
			return r
		}
	}
	return NewStaticResponse(http.StatusMethodNotAllowed, []byte("Method Not Allowed"))
}

func (p *Pipeline) renderMethodNotAcceptable(req *wire.Request, h Handler) Response {
	if r, err := h.NotAcceptable(req); err == nil && r != nil {
		return r
	}
	if p.MethodNotAcceptableHandler != nil {
		if r, err := p.MethodNotAcceptableHandler.GET(req); err == nil && r != nil {
			return r
		}
	}
	return NewStaticResponse(http.StatusNotAcceptable, []byte("Method Not Acceptable"))
}

// renderInternalError renders the configured internal-error handler, if any.
// Per the error handling design, if that handler itself panics, the static
// body is used unconditionally rather than propagating the new failure.
func (p *Pipeline) renderInternalError(req *wire.Request, cause error) (resp Response) {
	resp = NewStaticResponse(http.StatusInternalServerError, []byte("Internal Server Error"))
	if p.InternalErrorHandler == nil {
		return resp
	}

	defer func() {
		if recover() != nil {
			resp = NewStaticResponse(http.StatusInternalServerError, []byte("Internal Server Error"))
		}
	}()

	if r, err := p.InternalErrorHandler.GET(req); err == nil && r != nil {
		resp = r
	}
	return resp
}

package dispatch

import (
	"io"
	"net"
	"net/http"
	"os"
)

// Response is the contract a handler fulfils to produce wire bytes. AutoDelete
// mirrors the source library's ownership flag, but nothing in this module
// reads it: the pipeline calls Release on every response after writing it,
// whatever AutoDelete returns, and keeps no reference count.
type Response interface {
	// Render produces the status, headers and body to write to the wire.
	// A caller whose backing resource (e.g. a file) is missing should return
	// errFileMissing so the pipeline folds it into a 404 rather than a 500.
	Render() (status int, header http.Header, body []byte, err error)

	AutoDelete() bool

	// Connection returns the underlying connection handle for server-push
	// use (the long-poll overlay); nil for ordinary responses.
	Connection() net.Conn

	// OnCompletion registers an action to run once the response has been
	// fully written to the wire. May be called with nil to clear it.
	OnCompletion(fn func())

	// Release runs the completion action (if any) and is also the method
	// the response cache calls when a response is evicted/replaced.
	Release()
}

// baseResponse is embedded by the concrete response types below.
type baseResponse struct {
	autodelete bool
	conn       net.Conn
	completion func()
}

func (b *baseResponse) AutoDelete() bool       { return b.autodelete }
func (b *baseResponse) Connection() net.Conn   { return b.conn }
func (b *baseResponse) OnCompletion(fn func()) { b.completion = fn }
func (b *baseResponse) Release() {
	if b.completion != nil {
		fn := b.completion
		b.completion = nil
		fn()
	}
}

// StaticResponse is a response whose full body is already in memory.
type StaticResponse struct {
	baseResponse
	Status int
	Header http.Header
	Body   []byte
}

// NewStaticResponse builds a StaticResponse with autodelete semantics (the
// pipeline owns and frees it after use).
func NewStaticResponse(status int, body []byte) *StaticResponse {
	return &StaticResponse{
		baseResponse: baseResponse{autodelete: true},
		Status:       status,
		Header:       make(http.Header),
		Body:         body,
	}
}

func (r *StaticResponse) Render() (int, http.Header, []byte, error) {
	return r.Status, r.Header, r.Body, nil
}

// errFileMissing marks a render failure that should fold into 404 rather
// than 500, mirroring the source's file_access_exception distinction.
type errFileMissing struct{ path string }

func (e *errFileMissing) Error() string { return "dispatch: file not found: " + e.path }

// IsFileMissing reports whether err represents a missing backing file.
func IsFileMissing(err error) bool {
	_, ok := err.(*errFileMissing)
	return ok
}

// FileResponse streams a file from disk. Render fails with a file-missing
// error (folded to 404) if the file cannot be opened, and with a generic
// error (folded to 500) for any other read failure.
type FileResponse struct {
	baseResponse
	Path        string
	ContentType string
}

// NewFileResponse builds a FileResponse for the given path.
func NewFileResponse(path, contentType string) *FileResponse {
	return &FileResponse{
		baseResponse: baseResponse{autodelete: true},
		Path:         path,
		ContentType:  contentType,
	}
}

func (r *FileResponse) Render() (int, http.Header, []byte, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return 0, nil, nil, &errFileMissing{path: r.Path}
	}
	defer f.Close()

	body, err := io.ReadAll(f)
	if err != nil {
		return 0, nil, nil, err
	}

	header := make(http.Header)
	if r.ContentType != "" {
		header.Set("Content-Type", r.ContentType)
	}
	return http.StatusOK, header, body, nil
}

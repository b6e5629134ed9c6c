package iview

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// idempotentMethods is the set of HTTP methods a Session will silently
// retry once on a connection-reset-class failure: methods that are safe
// to repeat because they carry no side effect the server would apply
// twice.
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodTrace:   true,
	http.MethodOptions: true,
}

// Session is a thin wrapper over an *http.Client that retries idempotent
// requests once when the underlying connection was reset or the server
// replied 408 Request Timeout, transparently decodes a gzip-encoded
// response body, and enforces a Content-Type allow-list.
type Session struct {
	Client *http.Client
}

// NewSession returns a Session backed by an *http.Client configured for
// HTTP keep-alive, the default for Go's http.Transport.
func NewSession() *Session {
	return &Session{Client: &http.Client{}}
}

// Get issues a GET request for url, retrying once if the connection was
// reset before any response was received. If acceptContentTypes is
// non-empty, they are sent as the Accept header and the response's
// Content-Type (ignoring any parameters) must match one of them or
// ErrUnexpectedContentType is returned. The returned
// body transparently ungzips a gzip-encoded response.
func (s *Session) Get(ctx context.Context, url string, acceptContentTypes ...string) (io.ReadCloser, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept-Encoding", "gzip")
	if len(acceptContentTypes) > 0 {
		req.Header.Set("Accept", strings.Join(acceptContentTypes, ", "))
	}

	resp, err := s.doWithRetry(req)
	if err != nil {
		return nil, nil, err
	}

	if len(acceptContentTypes) > 0 {
		ct := contentTypeWithoutParams(resp.Header.Get("Content-Type"))
		matched := false
		for _, want := range acceptContentTypes {
			if ct == want {
				matched = true
				break
			}
		}
		if !matched {
			resp.Body.Close()
			return nil, nil, fmt.Errorf("got %q, want one of %v: %w", ct, acceptContentTypes, ErrUnexpectedContentType)
		}
	}

	body := resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(body)
		if err != nil {
			body.Close()
			return nil, nil, fmt.Errorf("decoding gzip response: %w", err)
		}
		body = &gzipReadCloser{Reader: gz, underlying: resp.Body}
	}
	return body, resp, nil
}

func (s *Session) doWithRetry(req *http.Request) (*http.Response, error) {
	resp, err := s.Client.Do(req)
	if err == nil && resp.StatusCode != http.StatusRequestTimeout {
		return resp, nil
	}
	if err != nil && !idempotentMethods[req.Method] {
		return nil, err
	}
	if err != nil && !isConnectionReset(err) {
		return nil, err
	}
	if resp != nil {
		resp.Body.Close()
	}

	retryReq := req.Clone(req.Context())
	return s.Client.Do(retryReq)
}

func isConnectionReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF)
}

func contentTypeWithoutParams(ct string) string {
	for i, c := range ct {
		if c == ';' {
			return ct[:i]
		}
	}
	return ct
}

// gzipReadCloser closes both the gzip.Reader and the underlying HTTP
// response body it wraps.
type gzipReadCloser struct {
	*gzip.Reader
	underlying io.ReadCloser
}

func (g *gzipReadCloser) Close() error {
	gzErr := g.Reader.Close()
	bodyErr := g.underlying.Close()
	if gzErr != nil {
		return gzErr
	}
	return bodyErr
}

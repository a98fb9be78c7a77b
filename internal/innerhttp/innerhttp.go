// Package innerhttp decodes the HTTP/1.1 request carried inside a VAU
// record and encodes a response back into wire bytes ready for the
// response-path AEAD seal.
package innerhttp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// Request is the decoded inner HTTP request.
type Request struct {
	Method string
	Target string
	Proto  string
	Header http.Header
	Body   []byte
}

// ErrTrailingBytes is returned when bytes remain after the chunked-body
// terminator (or Content-Length body) has been fully consumed.
var ErrTrailingBytes = fmt.Errorf("innerhttp: trailing bytes after body")

// DecodeRequest parses raw as an HTTP/1.1 request head plus body. The
// body stream is drained eagerly here (callers get the whole byte
// slice, not a lazy reader) since the VAU record itself is already a
// single fully-buffered plaintext. Trailing bytes left over once the
// declared body (chunked terminator or Content-Length) has been
// consumed are rejected, except for a run consisting only of CR/LF.
func DecodeRequest(raw []byte) (*Request, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	httpReq, err := http.ReadRequest(br)
	if err != nil {
		return nil, fmt.Errorf("innerhttp: parse request head: %w", err)
	}

	body, err := io.ReadAll(httpReq.Body)
	if err != nil {
		return nil, fmt.Errorf("innerhttp: read body: %w", err)
	}
	httpReq.Body.Close()

	if br.Buffered() > 0 {
		rest := make([]byte, br.Buffered())
		if _, err := io.ReadFull(br, rest); err != nil {
			return nil, fmt.Errorf("innerhttp: drain trailing bytes: %w", err)
		}
		if len(bytes.TrimRight(rest, "\r\n")) > 0 {
			return nil, ErrTrailingBytes
		}
	}

	return &Request{
		Method: httpReq.Method,
		Target: httpReq.URL.RequestURI(),
		Proto:  httpReq.Proto,
		Header: httpReq.Header,
		Body:   body,
	}, nil
}

// Response is the head/body pair an API handler hands back for
// encoding onto the VAU response path.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse builds a Response with an initialised header map.
func NewResponse(statusCode int, body []byte) *Response {
	return &Response{StatusCode: statusCode, Header: make(http.Header), Body: body}
}

// Encode serialises resp to raw HTTP/1.1 wire bytes (status line,
// headers, CRLF, body). Content-Length is set from the body length;
// chunked encoding is never produced on the response path.
func Encode(resp *Response) ([]byte, error) {
	header := resp.Header
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", fmt.Sprintf("%d", len(resp.Body)))

	httpResp := &http.Response{
		StatusCode:    resp.StatusCode,
		Status:        fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
	}

	var buf bytes.Buffer
	if err := httpResp.Write(&buf); err != nil {
		return nil, fmt.Errorf("innerhttp: encode response: %w", err)
	}
	return buf.Bytes(), nil
}

package request

import (
	"bytes"
	"fmt"
	"mime"
	"strconv"
	"strings"
)

// Limits from spec §4.1. Exceeding any of these is a fatal protocol
// error; the parser never buffers more than these bounds plus whatever
// body bytes it has already been handed.
const (
	maxRequestLineLen = 8192
	maxHeaderLineLen  = 8192
	maxHeaderCount    = 100
)

var crlf = []byte("\r\n")

// bodyMode is the parser's body-parsing sub-state, entered only when
// ParsingBody is reached with a method/header combination that implies
// a body.
type bodyMode int

const (
	bodyNone bodyMode = iota
	bodyIdentity
	bodyChunked
	bodyMultipart
)

// chunkPhase is the sub-state within bodyChunked.
type chunkPhase int

const (
	chunkReadSize chunkPhase = iota
	chunkReadData
	chunkReadDataCRLF
	chunkReadTrailer
)

// Parser incrementally advances a Request from a byte buffer that may
// grow between calls to Parse. It is single-use per request: the event
// loop must call Reset before reusing it on the same connection.
type Parser struct {
	state State

	// consumed is how far into the buffer passed to Parse this parser
	// has already folded into the Request. The event loop is expected
	// to discard consumed bytes from the front of its inbound buffer
	// once a request completes.
	consumed int

	headerCount int

	mode          bodyMode
	contentLength int64
	bodyRead      int64

	chunkPhase     chunkPhase
	chunkRemaining int64
}

// NewParser returns a Parser ready to parse a request line at buffer
// offset zero.
func NewParser() *Parser {
	return &Parser{state: ParsingRequestLine}
}

// Reset restores the parser to its initial state so it can be reused
// for the next request on the same connection.
func (p *Parser) Reset() {
	*p = Parser{state: ParsingRequestLine}
}

// Consumed returns how many leading bytes of the last buffer passed to
// Parse are now fully folded into the Request (or its error) and can be
// discarded by the caller.
func (p *Parser) Consumed() int {
	return p.consumed
}

// Parse advances req as far as buf allows. buf is the full inbound
// buffer accumulated so far (not just newly-arrived bytes); Parse
// resumes scanning from its own internal cursor. It returns true if it
// made progress or is simply waiting for more bytes, false only when a
// fatal protocol error was recorded on req (req.State == Error).
func (p *Parser) Parse(req *Request, buf []byte) bool {
	for {
		switch p.state {
		case ParsingRequestLine:
			if !p.parseRequestLine(req, buf) {
				return req.State != Error
			}
		case ParsingHeaders:
			if !p.parseHeaders(req, buf) {
				return req.State != Error
			}
		case ParsingBody:
			if !p.parseBody(req, buf) {
				return req.State != Error
			}
		case Complete, Error:
			return req.State != Error
		}
	}
}

func (p *Parser) fail(req *Request, code int, msg string) {
	req.State = Error
	req.Err = &RequestError{Code: code, Message: msg}
	p.state = Error
}

func (p *Parser) completeRequest(req *Request) {
	req.State = Complete
	p.state = Complete
}

// parseRequestLine consumes the method/target/version line. Returns
// false when it needs more bytes; true when it made a state transition
// (including into Error) and the caller should keep looping.
func (p *Parser) parseRequestLine(req *Request, buf []byte) bool {
	rel := buf[p.consumed:]
	idx := bytes.Index(rel, crlf)
	if idx == -1 {
		if len(rel) > maxRequestLineLen {
			p.fail(req, 414, "request line too long")
			return true
		}
		return false
	}
	if idx > maxRequestLineLen {
		p.fail(req, 414, "request line too long")
		return true
	}

	line := rel[:idx]
	p.consumed += idx + len(crlf)

	fields := strings.Fields(string(line))
	if len(fields) != 3 {
		p.fail(req, 400, "malformed request line")
		return true
	}
	method, target, version := fields[0], fields[1], fields[2]

	switch Method(method) {
	case GET, POST, DELETE:
		req.Method = Method(method)
	default:
		p.fail(req, 400, "unknown method")
		return true
	}

	if !strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "http://") {
		p.fail(req, 400, "malformed request target")
		return true
	}
	if !isHTTPVersion(version) {
		p.fail(req, 400, "malformed HTTP version")
		return true
	}

	req.URI = target
	req.Version = version
	splitTarget(req, target)

	p.state = ParsingHeaders
	req.State = ParsingHeaders
	return true
}

// isHTTPVersion matches "HTTP/<digits>.<digits>".
func isHTTPVersion(v string) bool {
	const prefix = "HTTP/"
	if !strings.HasPrefix(v, prefix) {
		return false
	}
	rest := v[len(prefix):]
	major, minor, ok := strings.Cut(rest, ".")
	if !ok || major == "" || minor == "" {
		return false
	}
	return isAllDigits(major) && isAllDigits(minor)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// splitTarget derives Path/QueryString from the request target, and
// Host/Port when the target is in absolute form (http://host[:port]/path).
func splitTarget(req *Request, target string) {
	rest := target
	if strings.HasPrefix(target, "http://") {
		rest = target[len("http://"):]
		authority := rest
		if i := strings.IndexByte(rest, '/'); i != -1 {
			authority = rest[:i]
			rest = rest[i:]
		} else {
			rest = "/"
		}
		host, port, ok := strings.Cut(authority, ":")
		req.Host = host
		if ok {
			req.Port = port
		}
	}

	path, query, hasQuery := strings.Cut(rest, "?")
	req.Path = path
	if hasQuery {
		req.QueryString = query
	}
}

// parseHeaders consumes header lines until the terminating blank line,
// then decides whether a body follows.
func (p *Parser) parseHeaders(req *Request, buf []byte) bool {
	for {
		rel := buf[p.consumed:]
		idx := bytes.Index(rel, crlf)
		if idx == -1 {
			if len(rel) > maxHeaderLineLen {
				p.fail(req, 400, "header line too long")
				return true
			}
			return false
		}
		if idx > maxHeaderLineLen {
			p.fail(req, 400, "header line too long")
			return true
		}

		line := rel[:idx]
		if len(line) == 0 {
			p.consumed += idx + len(crlf)
			p.enterBody(req)
			return true
		}

		if p.headerCount >= maxHeaderCount {
			p.fail(req, 431, "too many headers")
			return true
		}

		colon := bytes.IndexByte(line, ':')
		if colon == -1 {
			p.fail(req, 400, "malformed header line")
			return true
		}
		name := strings.TrimSpace(string(line[:colon]))
		value := strings.TrimSpace(string(line[colon+1:]))
		if !validHeaderName(name) {
			p.fail(req, 400, "invalid header name")
			return true
		}

		lname := strings.ToLower(name)
		req.Headers[lname] = value

		if lname == "content-length" {
			if !isAllDigits(value) {
				p.fail(req, 400, "malformed content-length")
				return true
			}
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				p.fail(req, 400, "malformed content-length")
				return true
			}
			p.contentLength = n
		}

		p.headerCount++
		p.consumed += idx + len(crlf)
	}
}

func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c == 0x7f || c == ':' {
			return false
		}
	}
	return true
}

// enterBody decides, per spec §4.1, whether headers alone complete the
// request or a body follows, and which body sub-mode to use.
func (p *Parser) enterBody(req *Request) {
	_, hasCL := req.Header("content-length")
	chunked := req.IsChunked()

	if req.Method != POST || (!hasCL && !chunked) {
		p.completeRequest(req)
		return
	}

	p.state = ParsingBody
	req.State = ParsingBody
	switch {
	case chunked:
		p.mode = bodyChunked
	default:
		ct, _ := req.Header("content-type")
		if strings.HasPrefix(strings.ToLower(ct), "multipart/form-data") {
			p.mode = bodyMultipart
		} else {
			p.mode = bodyIdentity
		}
	}
}

func (p *Parser) parseBody(req *Request, buf []byte) bool {
	switch p.mode {
	case bodyChunked:
		return p.parseChunkedBody(req, buf)
	case bodyMultipart:
		return p.parseBufferedBody(req, buf, true)
	default:
		return p.parseBufferedBody(req, buf, false)
	}
}

// parseBufferedBody accumulates exactly contentLength bytes into
// req.Body, then (for multipart) parses the parts out of it. It backs
// both the identity and multipart sub-modes since both wait for a known
// number of raw bytes before completing.
func (p *Parser) parseBufferedBody(req *Request, buf []byte, multipart bool) bool {
	rel := buf[p.consumed:]
	need := p.contentLength - p.bodyRead
	if need > 0 {
		take := int64(len(rel))
		if take > need {
			take = need
		}
		req.Body = append(req.Body, rel[:take]...)
		p.bodyRead += take
		p.consumed += int(take)
	}
	if p.bodyRead < p.contentLength {
		return false
	}

	if multipart {
		if err := parseMultipart(req); err != nil {
			p.fail(req, 400, err.Error())
			return true
		}
	}
	p.completeRequest(req)
	return true
}

const maxChunkSizeLineLen = 4096

func (p *Parser) parseChunkedBody(req *Request, buf []byte) bool {
	for {
		switch p.chunkPhase {
		case chunkReadSize:
			rel := buf[p.consumed:]
			idx := bytes.Index(rel, crlf)
			if idx == -1 {
				if len(rel) > maxChunkSizeLineLen {
					p.fail(req, 400, "chunk size line too long")
					return true
				}
				return false
			}
			line := rel[:idx]
			p.consumed += idx + len(crlf)

			if semi := bytes.IndexByte(line, ';'); semi != -1 {
				line = line[:semi]
			}
			line = bytes.TrimSpace(line)
			size, err := strconv.ParseInt(string(line), 16, 64)
			if err != nil || size < 0 {
				p.fail(req, 400, "invalid chunk size")
				return true
			}
			if size == 0 {
				p.chunkPhase = chunkReadTrailer
				continue
			}
			p.chunkRemaining = size
			p.chunkPhase = chunkReadData

		case chunkReadData:
			rel := buf[p.consumed:]
			take := int64(len(rel))
			if take > p.chunkRemaining {
				take = p.chunkRemaining
			}
			if take > 0 {
				req.Body = append(req.Body, rel[:take]...)
				p.consumed += int(take)
				p.chunkRemaining -= take
			}
			if p.chunkRemaining > 0 {
				return false
			}
			p.chunkPhase = chunkReadDataCRLF

		case chunkReadDataCRLF:
			rel := buf[p.consumed:]
			if len(rel) < len(crlf) {
				return false
			}
			if !bytes.Equal(rel[:len(crlf)], crlf) {
				p.fail(req, 400, "missing chunk terminator")
				return true
			}
			p.consumed += len(crlf)
			p.chunkPhase = chunkReadSize

		case chunkReadTrailer:
			rel := buf[p.consumed:]
			idx := bytes.Index(rel, crlf)
			if idx == -1 {
				return false
			}
			line := rel[:idx]
			p.consumed += idx + len(crlf)
			if len(line) == 0 {
				p.completeRequest(req)
				return true
			}
			// trailer line accepted and discarded, spec §4.1
		}
	}
}

// parseMultipart splits req.Body (already fully buffered) into
// uploaded-file and form-field parts per spec §4.1's multipart bullet.
func parseMultipart(req *Request) error {
	ct, _ := req.Header("content-type")
	boundary, err := extractBoundary(ct)
	if err != nil {
		return err
	}

	body := req.Body
	delim := []byte("--" + boundary)
	start := bytes.Index(body, delim)
	if start == -1 {
		return fmt.Errorf("multipart: opening boundary not found")
	}
	pos := start + len(delim)

	for {
		if pos+2 <= len(body) && body[pos] == '-' && body[pos+1] == '-' {
			return nil
		}
		if pos+len(crlf) > len(body) || !bytes.Equal(body[pos:pos+len(crlf)], crlf) {
			return fmt.Errorf("multipart: malformed part delimiter")
		}
		pos += len(crlf)

		headerEnd := bytes.Index(body[pos:], []byte("\r\n\r\n"))
		if headerEnd == -1 {
			return fmt.Errorf("multipart: unterminated part headers")
		}
		headerBlock := body[pos : pos+headerEnd]
		pos += headerEnd + 4

		fieldName, filename, contentType, err := parsePartHeaders(headerBlock)
		if err != nil {
			return err
		}

		nextDelim := append(append([]byte{}, crlf...), delim...)
		rel := bytes.Index(body[pos:], nextDelim)
		if rel == -1 {
			return fmt.Errorf("multipart: unterminated part body")
		}
		partBody := body[pos : pos+rel]
		pos += rel + len(nextDelim)

		if filename != "" {
			req.UploadedFiles = append(req.UploadedFiles, UploadedFile{
				FieldName:   fieldName,
				Filename:    filename,
				ContentType: contentType,
				Data:        partBody,
			})
		} else {
			if req.FormFields == nil {
				req.FormFields = make(map[string]string)
			}
			req.FormFields[fieldName] = string(partBody)
		}
	}
}

func parsePartHeaders(block []byte) (fieldName, filename, contentType string, err error) {
	for _, line := range bytes.Split(block, crlf) {
		if len(line) == 0 {
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon == -1 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(string(line[:colon])))
		value := strings.TrimSpace(string(line[colon+1:]))

		switch name {
		case "content-disposition":
			_, params, perr := mime.ParseMediaType(value)
			if perr != nil {
				return "", "", "", fmt.Errorf("multipart: bad content-disposition: %w", perr)
			}
			fieldName = params["name"]
			filename = params["filename"]
		case "content-type":
			contentType = value
		}
	}
	if fieldName == "" {
		return "", "", "", fmt.Errorf("multipart: part missing name")
	}
	return fieldName, filename, contentType, nil
}

func extractBoundary(contentType string) (string, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("multipart: bad content-type: %w", err)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", fmt.Errorf("multipart: missing boundary parameter")
	}
	return boundary, nil
}

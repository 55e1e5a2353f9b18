package cgi

import (
	"bytes"
	"fmt"
	"strconv"
)

// statusText covers the codes the CGI Executor itself can ever emit
// (200 and the fault() paths 404/403/500/504). ToBytes takes every
// status line's reason phrase from this table, including for a code the
// child set via a "Status:" header; the child's own reason-phrase text
// is not forwarded, and a code missing from the table gets "OK".
var statusText = map[int]string{
	200: "OK",
	403: "Forbidden",
	404: "Not Found",
	500: "Internal Server Error",
	504: "Gateway Timeout",
}

func reason(code int) string {
	if t, ok := statusText[code]; ok {
		return t
	}
	return "OK"
}

// ToBytes renders Result as a complete HTTP response, always appending
// its own Content-Length per spec §4.4's output-framing bullet
// regardless of what the CGI script's own preamble contained.
func (r Result) ToBytes() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", r.Status, reason(r.Status))
	buf.WriteString("Server: " + ServerSoftware + "\r\n")
	for name, value := range r.Headers {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("Content-Length: " + strconv.Itoa(len(r.Body)) + "\r\n")
	buf.WriteString("\r\n")
	buf.Write(r.Body)
	return buf.Bytes()
}

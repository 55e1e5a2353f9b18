package cgi

import (
	"strings"
	"testing"

	"github.com/kfcemployee/webserv/internal/request"
)

func TestParseOutputWithStatusHeader(t *testing.T) {
	out := []byte("Status: 404 Not Found\r\nContent-Type: text/plain\r\n\r\nnope")
	res := parseOutput(out)

	if res.Status != 404 {
		t.Fatalf("Status = %d, want 404", res.Status)
	}
	if res.Headers["Content-Type"] != "text/plain" {
		t.Errorf("Content-Type = %q", res.Headers["Content-Type"])
	}
	if string(res.Body) != "nope" {
		t.Errorf("Body = %q", res.Body)
	}
}

func TestParseOutputDefaultsContentType(t *testing.T) {
	out := []byte("\r\n\r\nok")
	res := parseOutput(out)

	if res.Status != 200 {
		t.Fatalf("Status = %d, want 200", res.Status)
	}
	if res.Headers["Content-Type"] != "text/html" {
		t.Errorf("Content-Type = %q, want text/html", res.Headers["Content-Type"])
	}
}

func TestParseOutputLFFallback(t *testing.T) {
	out := []byte("Content-Type: text/plain\n\nbody-here")
	res := parseOutput(out)

	if string(res.Body) != "body-here" {
		t.Errorf("Body = %q", res.Body)
	}
}

func TestHeaderEnvName(t *testing.T) {
	if got := headerEnvName("x-custom-header"); got != "X_CUSTOM_HEADER" {
		t.Errorf("headerEnvName = %q", got)
	}
}

func TestBuildEnvironmentIncludesQueryAndMethod(t *testing.T) {
	req := request.New()
	req.Method = request.GET
	req.URI = "/cgi/echo.py?x=1"
	req.QueryString = "x=1"
	req.Headers["host"] = "localhost"

	env := buildEnvironment(req, "/var/cgi/echo.py")
	joined := strings.Join(env, "\n")

	for _, want := range []string{
		"REQUEST_METHOD=GET",
		"QUERY_STRING=x=1",
		"SCRIPT_NAME=/var/cgi/echo.py",
		"SERVER_NAME=localhost",
		"HTTP_HOST=localhost",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("environment missing %q\ngot: %s", want, joined)
		}
	}
}

func TestBuildEnvironmentOmitsContentLengthForGet(t *testing.T) {
	req := request.New()
	req.Method = request.GET

	env := buildEnvironment(req, "/x")
	for _, e := range env {
		if strings.HasPrefix(e, "CONTENT_LENGTH=") {
			t.Fatalf("GET request should not carry CONTENT_LENGTH, got %q", e)
		}
	}
}

func TestFaultResult(t *testing.T) {
	res := fault(404)
	if res.Status != 404 {
		t.Fatalf("Status = %d, want 404", res.Status)
	}
	out := res.ToBytes()
	if !strings.Contains(string(out), "404 Not Found") {
		t.Errorf("ToBytes output missing status line: %s", out)
	}
}

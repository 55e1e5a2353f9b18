// Package cgi executes a location's cgi_pass interpreter against a
// resolved script path, per spec §4.4. Grounded on
// original_source/src/http/http_cgi_handler.cpp's fork/pipe/exec
// protocol and re-expressed with os/exec, the idiomatic Go stand-in for
// hand-rolled fork+dup2+execve (see DESIGN.md for why os/exec, not a
// third-party process-management library, is the right call here).
package cgi

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kfcemployee/webserv/internal/config"
	"github.com/kfcemployee/webserv/internal/request"
	"github.com/kfcemployee/webserv/internal/router"
	"github.com/rs/zerolog"
)

// Timeout is the overall child-process budget: a single 30-second
// deadline measured from when Execute starts the child. Output the
// child produces does not extend it.
const Timeout = 30 * time.Second

// ServerSoftware is the fixed identification string used both in the
// Server response header (internal/response.ServerIdent) and the CGI
// SERVER_SOFTWARE variable.
const ServerSoftware = "webserv/1.0"

// Result is the CGI Executor's product: the status, headers (already
// stripped of "Status"), and body split out of the child's stdout, or a
// status alone when the child never produced usable output.
type Result struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Fault maps directly onto the status taxonomy of spec §4.4's
// preconditions and §4.4 step 4's timeout/exit-status handling.
func fault(status int) Result {
	return Result{
		Status:  status,
		Headers: map[string]string{"Content-Type": "text/plain"},
		Body:    []byte(faultMessage(status)),
	}
}

func faultMessage(status int) string {
	switch status {
	case 404:
		return "CGI script not found\n"
	case 403:
		return "CGI script is not executable\n"
	case 504:
		return "CGI script timed out\n"
	default:
		return "CGI script execution failed\n"
	}
}

// Execute runs loc.CGIPass scriptPath as a child process feeding it
// req's body and returns its output framed as an HTTP response.
func Execute(req *request.Request, loc *config.Location, scriptPath string, fs ExecFS, log zerolog.Logger) Result {
	if router.EscapesRoot(loc.Root, scriptPath) {
		log.Warn().Str("path", scriptPath).Str("root", loc.Root).Msg("cgi: resolved script path escapes location root")
		return fault(404)
	}

	exists, executable := fs.IsExecutable(scriptPath)
	if !exists {
		return fault(404)
	}
	if !executable {
		return fault(403)
	}

	env := buildEnvironment(req, scriptPath)

	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, loc.CGIPass, scriptPath)
	cmd.Env = env
	if dir := scriptDir(scriptPath); dir != "" {
		cmd.Dir = dir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Error().Err(err).Msg("cgi: failed to create stdin pipe")
		return fault(500)
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		log.Error().Err(err).Str("cgi_pass", loc.CGIPass).Msg("cgi: failed to start child")
		return fault(500)
	}

	if req.Method == request.POST && len(req.Body) > 0 {
		if _, err := stdin.Write(req.Body); err != nil {
			log.Warn().Err(err).Msg("cgi: partial write to child stdin")
		}
	}
	stdin.Close()

	err = cmd.Wait()
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		log.Warn().Str("script", scriptPath).Msg("cgi: child timed out, killed")
		return fault(504)
	case err != nil:
		log.Warn().Err(err).Str("stderr", stderr.String()).Str("script", scriptPath).Msg("cgi: child exited non-zero")
		return fault(500)
	}

	return parseOutput(stdout.Bytes())
}

func scriptDir(scriptPath string) string {
	i := strings.LastIndexByte(scriptPath, '/')
	if i <= 0 {
		return ""
	}
	return scriptPath[:i]
}

// buildEnvironment constructs the RFC 3875 subset of spec §4.4's table.
func buildEnvironment(req *request.Request, scriptPath string) []string {
	env := []string{
		"REQUEST_METHOD=" + string(req.Method),
		"SERVER_SOFTWARE=" + ServerSoftware,
		"SERVER_NAME=" + hostHeader(req),
		"GATEWAY_INTERFACE=CGI/1.1",
		"SERVER_PROTOCOL=HTTP/1.1",
		"REQUEST_URI=" + req.URI,
		"SCRIPT_NAME=" + scriptPath,
		"QUERY_STRING=" + req.QueryString,
		"PATH=/usr/local/bin:/usr/bin:/bin",
	}

	if req.Method == request.POST {
		env = append(env, "CONTENT_LENGTH="+strconv.Itoa(len(req.Body)))
		if ct, ok := req.Header("content-type"); ok {
			env = append(env, "CONTENT_TYPE="+ct)
		}
	}

	for name, value := range req.Headers {
		env = append(env, "HTTP_"+headerEnvName(name)+"="+value)
	}

	return env
}

func hostHeader(req *request.Request) string {
	if v, ok := req.Header("host"); ok {
		return v
	}
	return req.Host
}

// headerEnvName upper-cases a lowercased stored header name and
// replaces "-" with "_", per spec §4.4's HTTP_<NAME> rule.
func headerEnvName(lower string) string {
	b := make([]byte, len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c == '-' {
			b[i] = '_'
		} else if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		} else {
			b[i] = c
		}
	}
	return string(b)
}

// parseOutput splits the child's stdout at the first CRLFCRLF (or LFLF
// fallback), parses the preamble as CGI headers, and frames the rest as
// the body, per spec §4.4's output-framing bullet.
func parseOutput(out []byte) Result {
	sep := []byte("\r\n\r\n")
	idx := bytes.Index(out, sep)
	sepLen := len(sep)
	if idx == -1 {
		sep = []byte("\n\n")
		sepLen = len(sep)
		idx = bytes.Index(out, sep)
	}

	if idx == -1 {
		return Result{Status: 200, Headers: map[string]string{"Content-Type": "text/html"}, Body: out}
	}

	preamble := out[:idx]
	body := out[idx+sepLen:]

	headers := map[string]string{}
	status := 200
	for _, rawLine := range bytes.Split(preamble, []byte("\n")) {
		line := bytes.TrimRight(rawLine, "\r")
		if len(line) == 0 {
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon == -1 {
			continue
		}
		name := strings.TrimSpace(string(line[:colon]))
		value := strings.TrimSpace(string(line[colon+1:]))
		if strings.EqualFold(name, "status") {
			status = parseStatusCode(value)
			continue
		}
		headers[name] = value
	}

	if _, ok := headers["Content-Type"]; !ok {
		headers["Content-Type"] = "text/html"
	}

	return Result{Status: status, Headers: headers, Body: body}
}

// parseStatusCode reads the leading 3-digit code off a CGI Status
// header value like "200 OK", defaulting to 200 on anything unparseable.
func parseStatusCode(value string) int {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 200
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 100 || n > 599 {
		return 200
	}
	return n
}

// ExecFS is the narrow filesystem capability the executor needs:
// existence and executability of the script path, per spec §4.4's
// preconditions.
type ExecFS interface {
	IsExecutable(path string) (exists bool, executable bool)
}

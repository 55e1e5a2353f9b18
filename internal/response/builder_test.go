package response

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kfcemployee/webserv/internal/config"
	"github.com/kfcemployee/webserv/internal/request"
	"github.com/kfcemployee/webserv/internal/router"
	"github.com/kfcemployee/webserv/internal/wlog"
)

// fakeFS is an in-memory FileSystem for builder tests.
type fakeFS struct {
	files map[string][]byte
	dirs  map[string]bool
	execs map[string]bool
}

func newFakeFS() *fakeFS {
	return &fakeFS{files: map[string][]byte{}, dirs: map[string]bool{}, execs: map[string]bool{}}
}

func (f *fakeFS) Classify(path string) (bool, bool) {
	if f.dirs[path] {
		return true, true
	}
	if _, ok := f.files[path]; ok {
		return true, false
	}
	return false, false
}
func (f *fakeFS) ReadFile(path string) ([]byte, error) {
	if data, ok := f.files[path]; ok {
		return data, nil
	}
	return nil, errNotFound
}
func (f *fakeFS) ListDir(path string) ([]string, error) {
	var names []string
	for p := range f.files {
		if strings.HasPrefix(p, path+"/") {
			names = append(names, strings.TrimPrefix(p, path+"/"))
		}
	}
	return names, nil
}
func (f *fakeFS) Remove(path string) error {
	if _, ok := f.files[path]; !ok {
		return errNotFound
	}
	delete(f.files, path)
	return nil
}
func (f *fakeFS) WriteFile(path string, data []byte) error {
	f.files[path] = data
	return nil
}
func (f *fakeFS) IsExecutable(path string) (bool, bool) {
	_, ok := f.files[path]
	return ok, f.execs[path]
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

func TestBuildStaticFile(t *testing.T) {
	fs := newFakeFS()
	fs.dirs["/var/www"] = true
	fs.files["/var/www/index.html"] = []byte("<h1>hi</h1>")

	loc := &config.Location{PathPrefix: "/", Root: "/var/www"}
	outcome := router.Outcome{}
	// Use the unexported constructor indirectly via router.Route for fidelity.
	server := &config.Server{Locations: []config.Location{*loc}}
	server.Finalize()
	req := request.New()
	req.Method = request.GET
	req.Path = "/"
	server.Locations[0].Index = []string{"index.html"}
	server.Locations[0].Methods = []request.Method{request.GET}
	server.Finalize()

	outcome = router.Route(server, req, statFS{fs})

	out := Build(req, outcome, server, fs, wlog.Discard())
	status, headers, body := parseResponse(out)

	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if headers["Content-Type"] != "text/html" {
		t.Errorf("Content-Type = %q", headers["Content-Type"])
	}
	if headers["Content-Length"] != "11" {
		t.Errorf("Content-Length = %q, want 11", headers["Content-Length"])
	}
	if string(body) != "<h1>hi</h1>" {
		t.Errorf("body = %q", body)
	}
}

func TestBuildRedirect(t *testing.T) {
	outcome := router.Outcome{}
	server := &config.Server{}
	fs := newFakeFS()
	req := request.New()

	out := Build(req, setRedirect(outcome, 301, "/new"), server, fs, wlog.Discard())
	status, headers, body := parseResponse(out)

	if status != 301 {
		t.Fatalf("status = %d, want 301", status)
	}
	if headers["Location"] != "/new" {
		t.Errorf("Location = %q, want /new", headers["Location"])
	}
	if len(body) != 0 {
		t.Errorf("body should be empty, got %q", body)
	}
}

func TestBuildErrorFallsBackToGenericPage(t *testing.T) {
	server := &config.Server{ErrorPages: map[int]string{404: "/missing.html"}}
	fs := newFakeFS()

	out := buildError(404, server, fs, wlog.Discard())
	status, _, body := parseResponse(out)

	if status != 404 {
		t.Fatalf("status = %d, want 404", status)
	}
	if !bytes.Contains(body, []byte("404")) {
		t.Errorf("generic page should mention 404, got %q", body)
	}
}

// statFS adapts fakeFS to router.Stat.
type statFS struct{ fs *fakeFS }

func (s statFS) Classify(p string) (bool, bool) { return s.fs.Classify(p) }

// setRedirect is a test-only helper building a Redirect Outcome without
// exporting router's internal constructor.
func setRedirect(o router.Outcome, status int, target string) router.Outcome {
	o.Kind = router.KindRedirect
	o.RedirectStatus = status
	o.RedirectTarget = target
	return o
}

// parseResponse is a minimal test-only response splitter — not a
// general HTTP client, just enough to assert on what Build produced.
func parseResponse(b []byte) (status int, headers map[string]string, body []byte) {
	parts := bytes.SplitN(b, []byte("\r\n\r\n"), 2)
	head := string(parts[0])
	if len(parts) == 2 {
		body = parts[1]
	}
	lines := strings.Split(head, "\r\n")
	fields := strings.SplitN(lines[0], " ", 3)
	status = atoiSafe(fields[1])

	headers = map[string]string{}
	for _, l := range lines[1:] {
		if name, val, ok := strings.Cut(l, ": "); ok {
			headers[name] = val
		}
	}
	return
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

package router

import (
	"testing"

	"github.com/kfcemployee/webserv/internal/config"
	"github.com/kfcemployee/webserv/internal/request"
)

// fakeStat lets router tests classify paths without touching a real
// filesystem.
type fakeStat struct {
	dirs  map[string]bool
	files map[string]bool
}

func (f fakeStat) Classify(p string) (exists, isDir bool) {
	if f.dirs[p] {
		return true, true
	}
	if f.files[p] {
		return true, false
	}
	return false, false
}

func newReq(method request.Method, path string) *request.Request {
	r := request.New()
	r.Method = method
	r.Path = path
	return r
}

func TestRoute(t *testing.T) {
	server := &config.Server{
		Locations: []config.Location{
			{
				PathPrefix: "/",
				Root:       "/var/www",
				Index:      []string{"index.html"},
				Methods:    []request.Method{request.GET},
			},
			{
				PathPrefix: "/old/",
				ReturnCode: 301,
				ReturnURL:  "/new",
				Methods:    []request.Method{request.GET},
			},
			{
				PathPrefix: "/cgi/",
				Root:       "/var/cgi",
				CGIPass:    "/usr/bin/python3",
				Methods:    []request.Method{request.GET},
			},
			{
				PathPrefix: "/private/",
				Root:       "/var/private",
				Autoindex:  false,
				Methods:    []request.Method{request.GET},
			},
		},
	}
	server.Finalize()

	stat := fakeStat{
		dirs:  map[string]bool{"/var/www": true, "/var/private": true},
		files: map[string]bool{"/var/www/index.html": true},
	}

	tests := []struct {
		name       string
		method     request.Method
		path       string
		wantKind   Kind
		wantStatus int
		wantFile   string
	}{
		{"static index", request.GET, "/", KindOk, 0, "/var/www/index.html"},
		{"method not allowed", request.POST, "/", KindErr, 405, ""},
		{"redirect", request.GET, "/old/", KindRedirect, 301, ""},
		{"cgi bypasses existence", request.GET, "/cgi/echo.py", KindOk, 0, "/var/cgi/echo.py"},
		{"no autoindex forbidden", request.GET, "/private/", KindErr, 403, ""},
		{"missing file left to builder", request.GET, "/nope", KindOk, 0, "/var/www/nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newReq(tt.method, tt.path)
			out := Route(server, req, stat)

			if out.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v", out.Kind, tt.wantKind)
			}
			switch tt.wantKind {
			case KindErr:
				if out.ErrStatus != tt.wantStatus {
					t.Errorf("ErrStatus = %d, want %d", out.ErrStatus, tt.wantStatus)
				}
			case KindRedirect:
				if out.RedirectStatus != tt.wantStatus {
					t.Errorf("RedirectStatus = %d, want %d", out.RedirectStatus, tt.wantStatus)
				}
			case KindOk:
				if out.FilePath != tt.wantFile {
					t.Errorf("FilePath = %q, want %q", out.FilePath, tt.wantFile)
				}
			}
		})
	}
}

func TestMatchLocationLongestPrefixWins(t *testing.T) {
	server := &config.Server{
		Locations: []config.Location{
			{PathPrefix: "/", Methods: []request.Method{request.GET}},
			{PathPrefix: "/api/", Methods: []request.Method{request.GET}},
			{PathPrefix: "/api/v1/", Methods: []request.Method{request.GET}},
		},
	}
	server.Finalize()

	loc := MatchLocation(server, "/api/v1/users")
	if loc.PathPrefix != "/api/v1/" {
		t.Fatalf("matched %q, want /api/v1/", loc.PathPrefix)
	}
}

func TestMatchLocationTieBreakEarliestDeclaredWins(t *testing.T) {
	server := &config.Server{
		Locations: []config.Location{
			{PathPrefix: "/docs", Methods: []request.Method{request.GET}},
			{PathPrefix: "/docs", Methods: []request.Method{request.GET}},
		},
	}
	server.Finalize()

	loc := MatchLocation(server, "/docs")
	if loc != &server.Locations[0] {
		t.Fatalf("expected earliest-declared Location to win the tie")
	}
}

func TestEscapesRoot(t *testing.T) {
	tests := []struct {
		root, filePath string
		want           bool
	}{
		{"/var/www", "/var/www/a/b.html", false},
		{"/var/www", "/var/www/../../etc/passwd", true},
		{"/var/www", "/var/www", false},
		{"/var/www", "/var/www2/x", true},
	}
	for _, tt := range tests {
		if got := EscapesRoot(tt.root, tt.filePath); got != tt.want {
			t.Errorf("EscapesRoot(%q, %q) = %v, want %v", tt.root, tt.filePath, got, tt.want)
		}
	}
}

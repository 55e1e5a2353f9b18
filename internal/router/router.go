// Package router implements the virtual-host location-matching
// algorithm: given a Server record and a completed Request, it decides
// whether to serve a file, list a directory, redirect, dispatch to
// CGI, or fail with an HTTP error status.
package router

import (
	"path"
	"strings"

	"github.com/kfcemployee/webserv/internal/config"
	"github.com/kfcemployee/webserv/internal/request"
)

// Outcome is the router's product: a tagged variant with exactly one of
// Ok, Redirect, or Err populated, mirroring spec §3's RouteOutcome.
// Using a single struct with a Kind tag (rather than three concrete
// Go types behind an interface) keeps routing allocation-free. The zero
// value's Kind is KindOk.
type Kind int

const (
	KindOk Kind = iota
	KindRedirect
	KindErr
)

type Outcome struct {
	Kind Kind

	// Ok fields.
	Location            *config.Location
	FilePath             string
	IsDirectory          bool
	ShouldListDirectory  bool
	IsCGI                bool

	// Redirect fields.
	RedirectStatus int
	RedirectTarget string

	// Err fields.
	ErrStatus  int
	ErrMessage string
}

func ok(loc *config.Location, filePath string, isDir, listDir, isCGI bool) Outcome {
	return Outcome{
		Kind:                KindOk,
		Location:            loc,
		FilePath:            filePath,
		IsDirectory:         isDir,
		ShouldListDirectory: listDir,
		IsCGI:               isCGI,
	}
}

func redirect(status int, target string) Outcome {
	return Outcome{Kind: KindRedirect, RedirectStatus: status, RedirectTarget: target}
}

func errOutcome(status int, message string) Outcome {
	return Outcome{Kind: KindErr, ErrStatus: status, ErrMessage: message}
}

// Stat abstracts filesystem classification so the router is unit
// testable without a real filesystem; in production the event loop
// wires an adapter over response.OSFileSystem (backed by os.Stat).
type Stat interface {
	// Classify reports whether p exists and, if so, whether it's a
	// directory.
	Classify(p string) (exists bool, isDir bool)
}

// Route implements spec §4.2's algorithm against server and req, using
// stat for filesystem classification.
func Route(server *config.Server, req *request.Request, stat Stat) Outcome {
	loc := MatchLocation(server, req.Path)
	if loc == nil {
		return errOutcome(404, "no matching location")
	}

	if loc.IsRedirect() {
		return redirect(loc.ReturnCode, loc.ReturnURL)
	}

	if !loc.AllowsMethod(req.Method) {
		return errOutcome(405, "method not allowed")
	}

	filePath := ResolvePath(loc, req.Path)

	if loc.IsCGI() {
		return ok(loc, filePath, false, false, true)
	}

	exists, isDir := stat.Classify(filePath)
	if !exists {
		return ok(loc, filePath, false, false, false)
	}
	if !isDir {
		return ok(loc, filePath, false, false, false)
	}

	for _, idx := range loc.Index {
		candidate := joinPath(filePath, idx)
		if cExists, cIsDir := stat.Classify(candidate); cExists && !cIsDir {
			return ok(loc, candidate, false, false, false)
		}
	}

	if loc.Autoindex {
		return ok(loc, filePath, true, true, false)
	}
	return errOutcome(403, "directory listing disabled")
}

// MatchLocation picks the Location whose path_prefix is the longest
// valid prefix match of reqPath, per spec §4.2 step 1. Ties go to the
// earliest declared Location.
func MatchLocation(server *config.Server, reqPath string) *config.Location {
	var best *config.Location
	bestLen := -1

	for i := range server.Locations {
		loc := &server.Locations[i]
		prefix := loc.PathPrefix
		if !strings.HasPrefix(reqPath, prefix) {
			continue
		}

		validMatch := len(reqPath) == len(prefix) ||
			prefix == "/" ||
			strings.HasSuffix(prefix, "/") ||
			(len(reqPath) > len(prefix) && reqPath[len(prefix)] == '/')

		if validMatch && len(prefix) > bestLen {
			bestLen = len(prefix)
			best = loc
		}
	}
	return best
}

// ResolvePath computes file_path = normalize(join(root, path − prefix))
// per spec §4.2 step 4. Normalization here only collapses repeated "/"
// — it deliberately does NOT resolve ".." the way path.Join/path.Clean
// would. Spec §9 flags the source's raw join as a path-traversal
// vulnerability and directs implementations to reject escaping paths
// instead of faithfully reproducing it; EscapesRoot below is that
// rejection check, applied by internal/response and internal/cgi
// before any filesystem access.
func ResolvePath(loc *config.Location, reqPath string) string {
	rel := reqPath
	if loc.PathPrefix != "/" {
		rel = strings.TrimPrefix(reqPath, loc.PathPrefix)
	}
	root := collapseSlashes(loc.Root)
	rel = collapseSlashes(strings.TrimPrefix(rel, "/"))
	if rel == "" && root != "" {
		return root
	}
	return root + "/" + rel
}

// joinPath is used only for appending a known-safe index filename to an
// already-resolved directory path, where path.Join's ".." handling is
// harmless because idx never comes from the request.
func joinPath(a, b string) string {
	if b == "" {
		return path.Clean(a)
	}
	return path.Join(a, b)
}

// collapseSlashes reduces runs of "/" to a single "/" without touching
// "." or ".." segments.
func collapseSlashes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSlash := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return strings.TrimSuffix(b.String(), "/")
}

// EscapesRoot reports whether filePath, once ".."-resolved, would fall
// outside root. Callers must check this before reading, listing, or
// deleting anything derived from ResolvePath's output.
func EscapesRoot(root, filePath string) bool {
	cleanRoot := path.Clean(root)
	cleanPath := path.Clean(filePath)
	if cleanPath == cleanRoot {
		return false
	}
	return !strings.HasPrefix(cleanPath, cleanRoot+"/")
}

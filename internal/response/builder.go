// Package response turns a router.Outcome into the bytes an HTTP/1.1
// origin server sends back: status line, headers, blank line, body.
// Grounded on the teacher's protocol.BuildResp (status table plus a
// flat copy-into-buffer writer) generalized to arbitrary headers and to
// spec §4.3's routing-outcome cases.
package response

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/kfcemployee/webserv/internal/config"
	"github.com/kfcemployee/webserv/internal/request"
	"github.com/kfcemployee/webserv/internal/router"
	"github.com/rs/zerolog"
)

// ServerIdent is the fixed identification string every response
// carries in its Server header, per spec §6.
const ServerIdent = "webserv/1.0"

type header struct{ name, value string }

// Build renders outcome (already produced by router.Route for a
// non-CGI request) into response bytes. CGI outcomes are never passed
// here — the event loop routes those to internal/cgi instead.
func Build(req *request.Request, outcome router.Outcome, server *config.Server, fs FileSystem, log zerolog.Logger) []byte {
	switch outcome.Kind {
	case router.KindRedirect:
		return buildRedirect(outcome)
	case router.KindErr:
		return buildError(outcome.ErrStatus, server, fs, log)
	default:
		return buildOk(req, outcome, server, fs, log)
	}
}

func buildRedirect(outcome router.Outcome) []byte {
	headers := []header{
		{"Server", ServerIdent},
		{"Location", outcome.RedirectTarget},
		{"Content-Length", "0"},
	}
	return writeResponse(outcome.RedirectStatus, headers, nil)
}

func buildOk(req *request.Request, outcome router.Outcome, server *config.Server, fs FileSystem, log zerolog.Logger) []byte {
	loc := outcome.Location
	filePath := outcome.FilePath

	if router.EscapesRoot(loc.Root, filePath) {
		log.Warn().Str("path", filePath).Str("root", loc.Root).Msg("resolved path escapes location root")
		return buildError(404, server, fs, log)
	}

	if outcome.ShouldListDirectory {
		return buildDirectoryListing(req, filePath, server, fs, log)
	}

	switch req.Method {
	case request.DELETE:
		return buildDelete(filePath, server, fs, log)
	case request.POST:
		return buildPostAck(req, loc, fs, log)
	default:
		return buildStaticFile(filePath, server, fs, log)
	}
}

func buildStaticFile(filePath string, server *config.Server, fs FileSystem, log zerolog.Logger) []byte {
	data, err := fs.ReadFile(filePath)
	if err != nil {
		return buildError(404, server, fs, log)
	}
	return fileResponse(200, data, mimeTypeFor(filePath))
}

func buildDirectoryListing(req *request.Request, dirPath string, server *config.Server, fs FileSystem, log zerolog.Logger) []byte {
	indexPath := filepath.Join(dirPath, "index.html")
	if data, err := fs.ReadFile(indexPath); err == nil {
		return fileResponse(200, data, "text/html")
	}

	names, err := fs.ListDir(dirPath)
	if err != nil {
		log.Error().Err(err).Str("dir", dirPath).Msg("failed to list directory")
		return buildError(500, server, fs, log)
	}
	return fileResponse(200, []byte(renderAutoindex(req.Path, names)), "text/html")
}

func renderAutoindex(reqPath string, names []string) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "<html><head><title>Index of %s</title></head><body>\n", reqPath)
	fmt.Fprintf(&b, "<h1>Index of %s</h1>\n<ul>\n", reqPath)
	if reqPath != "/" {
		b.WriteString(`<li><a href="../">../</a></li>` + "\n")
	}
	for _, name := range names {
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>\n", name, name)
	}
	b.WriteString("</ul></body></html>")
	return b.String()
}

func buildDelete(filePath string, server *config.Server, fs FileSystem, log zerolog.Logger) []byte {
	exists, isDir := fs.Classify(filePath)
	if !exists {
		return buildError(404, server, fs, log)
	}
	if isDir {
		return buildError(403, server, fs, log)
	}
	if err := fs.Remove(filePath); err != nil {
		log.Error().Err(err).Str("path", filePath).Msg("unlink failed")
		return buildError(500, server, fs, log)
	}
	return fileResponse(200, []byte("deleted\n"), "text/plain")
}

func buildPostAck(req *request.Request, loc *config.Location, fs FileSystem, log zerolog.Logger) []byte {
	if loc.UploadStore != "" {
		if err := persistUploads(req, loc, fs); err != nil {
			log.Error().Err(err).Str("upload_store", loc.UploadStore).Msg("failed to persist upload")
			return fileResponse(500, []byte("upload failed\n"), "text/plain")
		}
	}
	return fileResponse(200, []byte("accepted\n"), "text/plain")
}

// buildError resolves outcome per spec §4.3: try the Server's
// error_pages mapping, re-matched through the router's own location
// matcher; on any failure fall back to a generic page that cannot
// itself fail. This never recurses into buildError again.
func buildError(status int, server *config.Server, fs FileSystem, log zerolog.Logger) []byte {
	if server != nil {
		if uri, ok := server.ErrorPages[status]; ok {
			if data, contentType, ok := readErrorPage(server, uri, fs); ok {
				return fileResponse(status, data, contentType)
			}
			log.Warn().Int("status", status).Str("error_page", uri).Msg("configured error page unreadable, using generic page")
		}
	}
	return genericErrorPage(status)
}

func readErrorPage(server *config.Server, uri string, fs FileSystem) (data []byte, contentType string, ok bool) {
	loc := router.MatchLocation(server, uri)
	if loc == nil {
		return nil, "", false
	}
	filePath := router.ResolvePath(loc, uri)
	if router.EscapesRoot(loc.Root, filePath) {
		return nil, "", false
	}
	data, err := fs.ReadFile(filePath)
	if err != nil {
		return nil, "", false
	}
	return data, mimeTypeFor(filePath), true
}

// genericErrorPage is the fallback that spec §7 guarantees cannot fail:
// it touches no filesystem and always succeeds.
func genericErrorPage(status int) []byte {
	body := fmt.Sprintf(
		"<html><head><title>%d %s</title></head><body><h1>%d %s</h1></body></html>",
		status, reasonPhrase(status), status, reasonPhrase(status))
	return fileResponse(status, []byte(body), "text/html")
}

func fileResponse(status int, body []byte, contentType string) []byte {
	headers := []header{
		{"Server", ServerIdent},
		{"Content-Type", contentType},
		{"Content-Length", strconv.Itoa(len(body))},
	}
	return writeResponse(status, headers, body)
}

func writeResponse(status int, headers []header, body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(128 + len(body))

	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", status, reasonPhrase(status))
	for _, h := range headers {
		buf.WriteString(h.name)
		buf.WriteString(": ")
		buf.WriteString(h.value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

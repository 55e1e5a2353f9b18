// Package config holds the Server/Location data model consumed by the
// router. Turning a declarative nginx-style config file into this model
// is out of scope for the core engine (spec §1); LoadJSON below is a
// structural convenience so the binary in cmd/webserv has something to
// read, not that grammar.
package config

import "github.com/kfcemployee/webserv/internal/request"

// Location is a routing rule keyed by URL-path prefix, carrying
// filesystem and policy settings for matching requests.
type Location struct {
	PathPrefix     string                   `json:"path_prefix"`
	Root           string                   `json:"root"`
	Index          []string                 `json:"index"`
	Autoindex      bool                     `json:"autoindex"`
	Methods        []request.Method         `json:"allow_methods"`
	AllowedMethods map[request.Method]bool  `json:"-"`
	UploadStore    string                   `json:"upload_store,omitempty"`
	CGIPass        string                   `json:"cgi_pass,omitempty"`
	ReturnCode     int                      `json:"return_code,omitempty"`
	ReturnURL      string                   `json:"return_url,omitempty"`
}

// IsRedirect reports whether this Location is a redirect rule per the
// invariant in spec §3: return_code in [300,399] with a non-empty
// return_url means every other directive is ignored.
func (l *Location) IsRedirect() bool {
	return l.ReturnCode >= 300 && l.ReturnCode <= 399 && l.ReturnURL != ""
}

// IsCGI reports whether this Location dispatches to an interpreter.
func (l *Location) IsCGI() bool {
	return l.CGIPass != ""
}

// AllowsMethod reports whether m is permitted at this Location.
func (l *Location) AllowsMethod(m request.Method) bool {
	return l.AllowedMethods[m]
}

// Server is one virtual host: a listen port, an optional server_name
// used for Host-header based virtual-host selection, and the ordered
// Locations searched by the router.
type Server struct {
	ListenPort        uint16         `json:"listen_port"`
	ServerName        string         `json:"server_name,omitempty"`
	ErrorPages        map[int]string `json:"error_pages,omitempty"`
	ClientMaxBodySize int64          `json:"client_max_body_size,omitempty"`
	Locations         []Location     `json:"locations"`
}

// Finalize derives AllowedMethods from Methods for every Location. Call
// this once after decoding (or hand-constructing) a Server before
// handing it to the router.
func (s *Server) Finalize() {
	for i := range s.Locations {
		loc := &s.Locations[i]
		loc.AllowedMethods = make(map[request.Method]bool, len(loc.Methods))
		for _, m := range loc.Methods {
			loc.AllowedMethods[m] = true
		}
	}
}

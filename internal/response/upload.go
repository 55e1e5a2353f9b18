package response

import (
	"fmt"
	"path/filepath"

	"github.com/kfcemployee/webserv/internal/config"
	"github.com/kfcemployee/webserv/internal/request"
)

// persistUploads writes every uploaded multipart part to loc.UploadStore
// under its received filename, per SPEC_FULL.md §12's resolution of the
// upload-persistence open question (spec §9: "the source never writes
// uploads to disk; design choice deferred"). Only the filename's base
// component is used, never the full received path, so a part can't
// write outside the configured store.
func persistUploads(req *request.Request, loc *config.Location, fs FileSystem) error {
	for _, f := range req.UploadedFiles {
		name := filepath.Base(f.Filename)
		if name == "" || name == "." || name == string(filepath.Separator) {
			return fmt.Errorf("upload: refusing to persist unsafe filename %q", f.Filename)
		}
		dest := filepath.Join(loc.UploadStore, name)
		if escapesUploadStore(loc.UploadStore, dest) {
			return fmt.Errorf("upload: resolved path %q escapes upload_store", dest)
		}
		if err := fs.WriteFile(dest, f.Data); err != nil {
			return fmt.Errorf("upload: write %q: %w", dest, err)
		}
	}
	return nil
}

// escapesUploadStore mirrors router.EscapesRoot's guarantee for
// the upload_store directory without importing router purely for this
// (upload_store isn't a location root, it's a separate directive).
func escapesUploadStore(store, dest string) bool {
	rel, err := filepath.Rel(store, dest)
	if err != nil {
		return true
	}
	return rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

package response

import "strings"

// mimeByExt is the trivial extension-to-content-type table spec §1
// names as an out-of-scope collaborator ("MIME-type lookup ... trivial
// lookup tables"). It still has to live somewhere for the Response
// Builder to call, so it's kept intentionally small.
var mimeByExt = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".txt":  "text/plain",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
}

const defaultMimeType = "application/octet-stream"

func mimeTypeFor(filePath string) string {
	dot := strings.LastIndexByte(filePath, '.')
	if dot == -1 {
		return defaultMimeType
	}
	if ct, ok := mimeByExt[strings.ToLower(filePath[dot:])]; ok {
		return ct
	}
	return defaultMimeType
}

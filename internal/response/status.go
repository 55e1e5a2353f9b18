package response

// reasonPhrases mirrors the flat status-table idiom from the teacher's
// protocol.BuildResp (a fixed array indexed by code, since the set of
// codes this server ever emits is small and known ahead of time) but
// keyed by map since our code space isn't contiguous the way the
// teacher's 1xx-5xx table was.
var reasonPhrases = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	413: "Payload Too Large",
	414: "URI Too Long",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	502: "Bad Gateway",
	504: "Gateway Timeout",
}

func reasonPhrase(code int) string {
	if p, ok := reasonPhrases[code]; ok {
		return p
	}
	return "Unknown Status"
}

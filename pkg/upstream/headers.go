package upstream

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are never forwarded to the backend.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// computedHeaders are set by the transport from the outgoing body.
var computedHeaders = []string{
	"Content-Length",
	"Content-Type",
	"Host",
}

// relayedHeaders is the response header subset handed back to callers.
var relayedHeaders = []string{
	"Content-Encoding",
	"Content-Type",
}

// forwardHeaders copies the caller's headers minus hop-by-hop and computed
// ones. Headers named by a Connection header value are dropped too.
func forwardHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
	for _, named := range src.Values("Connection") {
		for _, name := range splitTokens(named) {
			dst.Del(name)
		}
	}
	for _, header := range hopByHopHeaders {
		dst.Del(header)
	}
	for _, header := range computedHeaders {
		dst.Del(header)
	}
	return dst
}

// relayHeaders keeps only the headers callers may relay untouched.
func relayHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(relayedHeaders))
	for _, header := range relayedHeaders {
		if v := src.Values(header); len(v) > 0 {
			dst[header] = append([]string(nil), v...)
		}
	}
	return dst
}

func splitTokens(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

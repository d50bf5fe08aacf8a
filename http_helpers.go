package main

import (
	"io"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	"github.com/tidwall/gjson"
)

// PseudoHeaderOrder is the standard HTTP/2 pseudo-header order for all requests.
var PseudoHeaderOrder = []string{
	":method",
	":authority",
	":scheme",
	":path",
}

// readResponseBody decompresses and reads the full response body.
// Caller should defer resp.Body.Close() before calling this.
func readResponseBody(resp *http.Response) ([]byte, error) {
	body := http.DecompressBody(resp)
	defer body.Close()
	return io.ReadAll(body)
}

const maxDetailLen = 200

// remoteDetail picks the human-readable part of an error body: the JSON
// "detail" field when present, otherwise a truncated body.
func remoteDetail(body []byte) string {
	if detail := jsonDetail(body); detail != "" {
		return detail
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxDetailLen {
		text = text[:maxDetailLen] + "..."
	}
	return text
}

// jsonDetail is the "detail" string of a JSON error body, or "".
func jsonDetail(body []byte) string {
	if detail := gjson.GetBytes(body, "detail"); detail.Type == gjson.String {
		return detail.String()
	}
	return ""
}

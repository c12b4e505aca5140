package service

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"rc-relay/internal/model"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// upstreamResponse is a fully read upstream reply.
type upstreamResponse struct {
	status     int
	statusLine string
	header     http.Header
	body       []byte
	finalURL   string
}

// envelope builds the caller-facing envelope; data is parsed JSON when the
// content type says JSON and the body parses, the decoded text otherwise.
func envelope(res *upstreamResponse) *model.ResponseEnvelope {
	contentType := res.header.Get("Content-Type")
	text := decodeText(res.body, contentType)

	var data any = text
	if isJSON(contentType) && json.Valid([]byte(text)) {
		data = json.RawMessage(text)
	}

	return &model.ResponseEnvelope{
		Success:    res.status >= 200 && res.status < 300,
		Status:     res.status,
		StatusText: statusText(res.status, res.statusLine),
		Headers:    flattenHeaders(res.header),
		Data:       data,
		URL:        res.finalURL,
	}
}

// flattenHeaders joins multi-value headers with ", ". Keys are canonical, so
// duplicates differing only in case have already merged.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		out[k] = strings.Join(vals, ", ")
	}
	return out
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "application/json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// decodeText converts body to UTF-8 using the charset parameter of
// contentType, if any. Unknown charsets leave the bytes untouched.
func decodeText(body []byte, contentType string) string {
	body = bytes.TrimPrefix(body, utf8BOM)
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return string(body)
	}
	cs := strings.ToLower(strings.TrimSpace(params["charset"]))
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		return string(body)
	}
	enc, _ := charset.Lookup(cs)
	if enc == nil {
		return string(body)
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

func statusText(code int, statusLine string) string {
	if t := model.StatusText(code); t != "" {
		return t
	}
	return strings.TrimSpace(strings.TrimPrefix(statusLine, strconv.Itoa(code)))
}

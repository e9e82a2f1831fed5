package capture

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/capture-gateway/internal/config"
)

// Kinds written into the "kind" field of a capture document.
const (
	KindUpstreamRequest  = "upstream_request"
	KindUpstreamResponse = "upstream_response"
)

// Categories used as the last filename segment.
const (
	CategoryRequest  = "upstream_request"
	CategoryResponse = "upstream_response"
)

// lossyText decodes b as UTF-8, replacing each maximal invalid subpart with
// one U+FFFD. A truncated multi-byte sequence counts once, any other bad byte
// counts on its own.
func lossyText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b) + 8)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
			size = invalidPrefixLen(b)
		} else {
			sb.Write(b[:size])
		}
		b = b[size:]
	}
	return sb.String()
}

// invalidPrefixLen returns how many bytes at the start of b form the prefix
// of a well-formed sequence that was cut short. It is at least 1.
func invalidPrefixLen(b []byte) int {
	lo, hi, n := byte(0x80), byte(0xBF), 0
	switch c := b[0]; {
	case c >= 0xC2 && c <= 0xDF:
		n = 2
	case c == 0xE0:
		n, lo = 3, 0xA0
	case c == 0xED:
		n, hi = 3, 0x9F
	case c >= 0xE1 && c <= 0xEF:
		n = 3
	case c == 0xF0:
		n, lo = 4, 0x90
	case c == 0xF4:
		n, hi = 4, 0x8F
	case c >= 0xF1 && c <= 0xF3:
		n = 4
	default:
		return 1
	}
	i := 1
	for i < n && i < len(b) && b[i] >= lo && b[i] <= hi {
		lo, hi = 0x80, 0xBF
		i++
	}
	return i
}

// newDocument starts a capture document with kind, trace_id and meta set.
func newDocument(kind, correlationID string, meta any) ([]byte, error) {
	doc := []byte(`{}`)
	var err error
	if doc, err = sjson.SetBytes(doc, "kind", kind); err != nil {
		return nil, err
	}
	if doc, err = sjson.SetBytes(doc, "trace_id", correlationID); err != nil {
		return nil, err
	}
	return sjson.SetBytes(doc, "meta", meta)
}

// responseDocument builds the upstream_response capture for a finished stream.
func responseDocument(correlationID string, meta any, collected []byte) ([]byte, error) {
	doc, err := newDocument(KindUpstreamResponse, correlationID, meta)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(doc, "response_text", lossyText(collected))
}

// requestDocument builds the upstream_request capture. JSON bodies are kept
// as nested documents, anything else is stored as text.
func requestDocument(correlationID string, meta any, body []byte) ([]byte, error) {
	doc, err := newDocument(KindUpstreamRequest, correlationID, meta)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 && gjson.ValidBytes(body) {
		return sjson.SetRawBytes(doc, "request_body", body)
	}
	return sjson.SetBytes(doc, "request_text", lossyText(body))
}

// traceID reads the trace id back out of a document for the filename.
func traceID(doc []byte) string {
	return gjson.GetBytes(doc, "trace_id").String()
}

// writeDocument hands a finished document to the writer.
func (w *Writer) writeDocument(ctx context.Context, cfg config.DebugLoggingConfig, category string, doc []byte, err error) {
	if err != nil {
		w.report(ctx, outcome{kind: outcomeEncodeFailed, err: err}, category)
		return
	}
	w.Write(ctx, cfg, traceID(doc), category, json.RawMessage(doc))
}

// WriteRequest captures an outgoing request body.
func (w *Writer) WriteRequest(ctx context.Context, cfg config.DebugLoggingConfig, correlationID string, meta any, body []byte) {
	if !cfg.Enabled {
		return
	}
	doc, err := requestDocument(correlationID, meta, body)
	w.writeDocument(ctx, cfg, CategoryRequest, doc, err)
}

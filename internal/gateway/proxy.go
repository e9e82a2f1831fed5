package gateway

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/compresr/capture-gateway/internal/capture"
	"github.com/compresr/capture-gateway/internal/monitoring"
)

// hopHeaders are connection-level headers that must not be forwarded.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// captureMeta is the "meta" section of request and response captures.
type captureMeta struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	UpstreamURL string `json:"upstream_url"`
	Model       string `json:"model,omitempty"`
	Stream      bool   `json:"stream"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// handleProxy forwards the request upstream and streams the response back.
func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := monitoring.RequestIDFromContext(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		g.writeError(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > MaxRequestBodySize {
		g.writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	target := g.targetURL(r)
	meta := captureMeta{
		Method:      r.Method,
		Path:        r.URL.Path,
		UpstreamURL: target,
		Model:       gjson.GetBytes(body, "model").String(),
		Stream:      gjson.GetBytes(body, "stream").Bool(),
	}

	debugCfg := g.config.DebugLogging
	g.capture.WriteRequest(ctx, debugCfg, requestID, meta, body)

	upReq, err := http.NewRequestWithContext(ctx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		g.writeError(w, "invalid upstream request", http.StatusBadRequest)
		return
	}
	copyHeaders(upReq.Header, r.Header)
	// Let the transport negotiate and decode compression so captures are readable.
	upReq.Header.Del("Accept-Encoding")
	upReq.Header.Set(HeaderRequestID, requestID)

	g.requestLogger.LogOutgoing(&monitoring.OutgoingRequestInfo{
		RequestID: requestID,
		TargetURL: target,
		Method:    r.Method,
		BodySize:  len(body),
		Stream:    meta.Stream,
		Captured:  capture.Enabled(debugCfg),
	})

	resp, err := g.client.Do(upReq)
	if err != nil {
		g.alerts.FlagUpstreamError(requestID, target, err)
		g.writeError(w, "upstream request failed", http.StatusBadGateway)
		return
	}

	if resp.StatusCode >= 400 {
		g.alerts.FlagProviderError(requestID, resp.StatusCode)
	}

	respMeta := meta
	respMeta.Status = resp.StatusCode
	respMeta.ContentType = resp.Header.Get("Content-Type")
	respBody := capture.WrapBody(ctx, g.capture, resp.Body, debugCfg, requestID, capture.CategoryResponse, respMeta)
	defer respBody.Close()

	copyHeaders(w.Header(), resp.Header)
	w.Header().Del("Content-Length")
	w.WriteHeader(resp.StatusCode)

	if err := streamBody(w, respBody); err != nil {
		log.Debug().Err(err).Str("request_id", requestID).Msg("response stream interrupted")
	}
}

// targetURL joins the upstream base URL with the request path and query.
func (g *Gateway) targetURL(r *http.Request) string {
	target := strings.TrimRight(g.config.Upstream.BaseURL, "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target
}

// streamBody copies body to w, flushing after every chunk so SSE events
// reach the client as soon as the upstream sends them.
func streamBody(w http.ResponseWriter, body io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if hopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

package capture

import (
	"context"
	"io"
	"iter"

	"github.com/compresr/capture-gateway/internal/config"
)

// Chunk is any byte chunk representation that can be copied out read-only.
type Chunk interface {
	~[]byte | ~string
}

// tee accumulates the bytes of one stream. It is owned by a single wrapper
// and holds nothing across streams.
type tee struct {
	ctx           context.Context
	w             *Writer
	cfg           config.DebugLoggingConfig
	correlationID string
	category      string
	meta          any
	buf           []byte
}

func newTee(ctx context.Context, w *Writer, cfg config.DebugLoggingConfig, correlationID, category string, meta any) *tee {
	if ctx == nil {
		ctx = context.Background()
	}
	return &tee{
		ctx:           ctx,
		w:             w,
		cfg:           cfg,
		correlationID: correlationID,
		category:      category,
		meta:          meta,
	}
}

// finish writes the capture and releases the buffer. Runs once, at end of stream.
func (t *tee) finish() {
	collected := t.buf
	t.buf = nil
	doc, err := responseDocument(t.correlationID, t.meta, collected)
	t.w.writeDocument(t.ctx, t.cfg, t.category, doc, err)
}

// WrapSeq returns a sequence that yields every element of seq unchanged and,
// once seq is exhausted, writes the concatenated successful chunks to disk
// before returning. Elements with a non-nil error are forwarded but not
// captured. If the consumer stops early nothing is written.
//
// When capture is disabled seq itself is returned.
func WrapSeq[C Chunk](ctx context.Context, w *Writer, seq iter.Seq2[C, error], cfg config.DebugLoggingConfig, correlationID, category string, meta any) iter.Seq2[C, error] {
	if !Enabled(cfg) || w == nil {
		return seq
	}

	return func(yield func(C, error) bool) {
		t := newTee(ctx, w, cfg, correlationID, category, meta)
		for chunk, err := range seq {
			if err == nil {
				t.buf = append(t.buf, chunk...)
			}
			if !yield(chunk, err) {
				return
			}
		}
		t.finish()
	}
}

// teeBody copies everything read from an HTTP body.
type teeBody struct {
	body io.ReadCloser
	t    *tee
	done bool
}

// WrapBody returns a body that reads through to body and, when body reports
// io.EOF, writes the captured bytes before returning io.EOF to the caller.
// Closing before EOF discards the capture.
//
// When capture is disabled body itself is returned.
func WrapBody(ctx context.Context, w *Writer, body io.ReadCloser, cfg config.DebugLoggingConfig, correlationID, category string, meta any) io.ReadCloser {
	if !Enabled(cfg) || w == nil || body == nil {
		return body
	}
	return &teeBody{
		body: body,
		t:    newTee(ctx, w, cfg, correlationID, category, meta),
	}
}

func (b *teeBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if b.done {
		return n, err
	}
	if n > 0 {
		b.t.buf = append(b.t.buf, p[:n]...)
	}
	if err == io.EOF {
		b.done = true
		b.t.finish()
	}
	return n, err
}

func (b *teeBody) Close() error {
	if !b.done {
		b.done = true
		b.t.buf = nil
	}
	return b.body.Close()
}

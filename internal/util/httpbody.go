package util

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var gzipReaderPool = sync.Pool{
	New: func() any { return new(gzip.Reader) },
}

// zstd decoders are expensive to create.
var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, _ := zstd.NewReader(nil)
		return decoder
	},
}

var brotliReaderPool = sync.Pool{
	New: func() any { return new(brotli.Reader) },
}

// compositeReadCloser closes the decompressor and the underlying body.
type compositeReadCloser struct {
	io.Reader
	closers []func() error
}

func (c *compositeReadCloser) Close() error {
	var firstErr error
	for i := range c.closers {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type pooledGzipReadCloser struct {
	gr   *gzip.Reader
	body io.ReadCloser
}

func (p *pooledGzipReadCloser) Read(b []byte) (int, error) { return p.gr.Read(b) }

func (p *pooledGzipReadCloser) Close() error {
	err := p.gr.Close()
	gzipReaderPool.Put(p.gr)
	if bodyErr := p.body.Close(); bodyErr != nil && err == nil {
		err = bodyErr
	}
	return err
}

type pooledZstdReadCloser struct {
	decoder *zstd.Decoder
	body    io.ReadCloser
}

func (p *pooledZstdReadCloser) Read(b []byte) (int, error) { return p.decoder.Read(b) }

func (p *pooledZstdReadCloser) Close() error {
	_ = p.decoder.Reset(nil)
	zstdDecoderPool.Put(p.decoder)
	return p.body.Close()
}

type pooledBrotliReadCloser struct {
	br   *brotli.Reader
	body io.ReadCloser
}

func (p *pooledBrotliReadCloser) Read(b []byte) (int, error) { return p.br.Read(b) }

func (p *pooledBrotliReadCloser) Close() error {
	brotliReaderPool.Put(p.br)
	return p.body.Close()
}

// DecodeResponseBody wraps body with a decompressor for contentEncoding (gzip,
// deflate, br, zstd). Unknown and identity encodings return body unchanged.
// Closing the result closes body.
func DecodeResponseBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	if body == nil {
		return nil, fmt.Errorf("response body is nil")
	}
	if contentEncoding == "" {
		return body, nil
	}
	for _, raw := range strings.Split(contentEncoding, ",") {
		switch strings.TrimSpace(strings.ToLower(raw)) {
		case "gzip", "x-gzip":
			gr := gzipReaderPool.Get().(*gzip.Reader)
			if err := gr.Reset(body); err != nil {
				gzipReaderPool.Put(gr)
				_ = body.Close()
				return nil, fmt.Errorf("failed to reset gzip reader: %w", err)
			}
			return &pooledGzipReadCloser{gr: gr, body: body}, nil
		case "deflate":
			deflateReader := flate.NewReader(body)
			return &compositeReadCloser{
				Reader:  deflateReader,
				closers: []func() error{deflateReader.Close, body.Close},
			}, nil
		case "br":
			br := brotliReaderPool.Get().(*brotli.Reader)
			if err := br.Reset(body); err != nil {
				brotliReaderPool.Put(br)
				_ = body.Close()
				return nil, fmt.Errorf("failed to reset brotli reader: %w", err)
			}
			return &pooledBrotliReadCloser{br: br, body: body}, nil
		case "zstd":
			decoder := zstdDecoderPool.Get().(*zstd.Decoder)
			if err := decoder.Reset(body); err != nil {
				zstdDecoderPool.Put(decoder)
				_ = body.Close()
				return nil, fmt.Errorf("failed to reset zstd decoder: %w", err)
			}
			return &pooledZstdReadCloser{decoder: decoder, body: body}, nil
		}
	}
	return body, nil
}

// ReadLimited reads at most limit bytes of r.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}

// internal/network/compression.go
package network

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() interface{} { return brotli.NewReader(nil) },
	}
)

var emptyReader = strings.NewReader("")

// CompressionMiddleware advertises br/gzip/deflate and transparently decodes
// the response body. Category pages are served brotli-compressed to browsers,
// so the category fetcher mirrors that negotiation.
type CompressionMiddleware struct {
	Transport http.RoundTripper
}

// NewCompressionMiddleware wraps transport; nil means http.DefaultTransport.
func NewCompressionMiddleware(transport http.RoundTripper) *CompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CompressionMiddleware{Transport: transport}
}

// RoundTrip implements http.RoundTripper.
func (cm *CompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "br, gzip, deflate")
	}

	resp, err := cm.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := DecompressResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// closeWrapper closes the decoder and the original body and returns pooled readers.
type closeWrapper struct {
	io.ReadCloser
	originalBody io.ReadCloser
	release      func()
}

func (w *closeWrapper) Close() error {
	if w.release != nil {
		w.release()
		w.release = nil
	}
	return errors.Join(w.ReadCloser.Close(), w.originalBody.Close())
}

// DecompressResponse wraps resp.Body according to Content-Encoding, applying
// decoders in reverse order of the listed encodings. On error the body may be
// partially consumed and must be discarded.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		var (
			reader  io.ReadCloser
			release func()
		)

		switch strings.ToLower(strings.TrimSpace(encodings[i])) {
		case "gzip", "x-gzip":
			zr := gzipReaderPool.Get().(*gzip.Reader)
			if err := zr.Reset(resp.Body); err != nil {
				gzipReaderPool.Put(zr)
				return fmt.Errorf("gzip initialization error: %w", err)
			}
			reader = zr
			release = func() {
				_ = zr.Reset(emptyReader)
				gzipReaderPool.Put(zr)
			}
		case "br":
			br := brotliReaderPool.Get().(*brotli.Reader)
			if err := br.Reset(resp.Body); err != nil {
				brotliReaderPool.Put(br)
				return fmt.Errorf("brotli initialization error: %w", err)
			}
			reader = io.NopCloser(br)
			release = func() {
				_ = br.Reset(emptyReader)
				brotliReaderPool.Put(br)
			}
		case "deflate":
			dr, err := newDeflateReader(resp.Body)
			if err != nil {
				return fmt.Errorf("deflate initialization error: %w", err)
			}
			reader = dr
		case "identity", "":
			continue
		default:
			return fmt.Errorf("unsupported Content-Encoding layer: %s", encodings[i])
		}

		resp.Body = &closeWrapper{ReadCloser: reader, originalBody: resp.Body, release: release}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// newDeflateReader handles both zlib-wrapped and raw deflate streams, which
// servers send interchangeably under "deflate".
func newDeflateReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	// A zlib header has CM=8 in the low nibble and a header checksum divisible by 31.
	if len(header) == 2 && header[0]&0x0f == 8 && (uint16(header[0])<<8|uint16(header[1]))%31 == 0 {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}

package encoding

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// NewEncoder 根据 Decision 包装 w，调用方必须 Close 以刷出尾部数据。
// identity 返回的 WriteCloser 在 Close 时不会关闭 w。
func NewEncoder(d Decision, w io.Writer) io.WriteCloser {
	switch d.Coding {
	case Gzip:
		return gzip.NewWriter(w)
	case Brotli:
		return brotli.NewWriterLevel(w, brotli.DefaultCompression)
	default:
		return nopWriteCloser{w}
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// NewDecoder 按上游 Content-Encoding 返回解码后的 Reader。
//
// gzip/x-gzip 使用 gzip，deflate 兼容 zlib 包装与裸 deflate，br 使用 brotli。
// 多个编码按逆序依次解码；只要出现未知编码（或头部缺失），就原样透传。
// 返回值 decoded 表示是否实际套用了解码器。
func NewDecoder(contentEncoding string, r io.Reader) (rc io.ReadCloser, decoded bool, err error) {
	codings := parseCodingList(contentEncoding)
	if len(codings) == 0 || !allKnown(codings) {
		return io.NopCloser(r), false, nil
	}

	closers := make([]io.Closer, 0, len(codings))
	current := r
	for i := len(codings) - 1; i >= 0; i-- {
		next, closer, stepErr := decodeStep(codings[i], current)
		if stepErr != nil {
			closeAll(closers)
			return nil, false, fmt.Errorf("init %s decoder: %w", codings[i], stepErr)
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		current = next
	}
	return &chainReader{Reader: current, closers: closers}, true, nil
}

func decodeStep(coding string, r io.Reader) (io.Reader, io.Closer, error) {
	switch coding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr, nil
	case "deflate":
		return newDeflateReader(r)
	case "br":
		return brotli.NewReader(r), nil, nil
	case "identity":
		return r, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported content-encoding %q", coding)
	}
}

// newDeflateReader 先窥探 zlib 头，HTTP 的 deflate 通常带 zlib 包装，但也有服务端发送裸流。
func newDeflateReader(r io.Reader) (io.Reader, io.Closer, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(2)
	if err != nil && len(header) < 2 {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, nil, err
	}
	if isZlibHeader(header[0], header[1]) {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr, nil
	}
	fr := flate.NewReader(br)
	return fr, fr, nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

func parseCodingList(header string) []string {
	var codings []string
	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		codings = append(codings, part)
	}
	return codings
}

func allKnown(codings []string) bool {
	for _, coding := range codings {
		switch coding {
		case "gzip", "x-gzip", "deflate", "br", "identity":
		default:
			return false
		}
	}
	return true
}

type chainReader struct {
	io.Reader
	closers []io.Closer
}

func (c *chainReader) Close() error {
	return closeAll(c.closers)
}

func closeAll(closers []io.Closer) error {
	var first error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

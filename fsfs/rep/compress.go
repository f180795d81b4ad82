package rep

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"
)

// plainCompressionThreshold is the smallest fulltext worth paying
// gzip's header/footer overhead for.
const plainCompressionThreshold = 256

// sniffWindow mirrors the sample size a content sniffer needs to
// recognize common container magic bytes.
const sniffWindow = 261

// shouldCompressPlain decides whether a PLAIN representation's
// fulltext is worth gzip-compressing: large enough to be worthwhile,
// and not already a compressed container format (images, video,
// archives, audio) where a second compression pass wastes CPU for
// no space saved.
func shouldCompressPlain(fulltext []byte) bool {
	if len(fulltext) < plainCompressionThreshold {
		return false
	}
	head := fulltext
	if len(head) > sniffWindow {
		head = head[:sniffWindow]
	}
	return !(filetype.IsImage(head) || filetype.IsVideo(head) || filetype.IsArchive(head) || filetype.IsAudio(head))
}

// EncodePlainBody chooses the on-disk Kind and payload for a PLAIN
// representation's fulltext: gzipped (PlainCompressed) when the
// content is large and not already a compressed container format,
// the raw bytes (Plain) otherwise. Callers only reach this path for
// representations with no delta base; it never applies to DELTA.
func EncodePlainBody(fulltext []byte) (Kind, []byte, error) {
	if !shouldCompressPlain(fulltext) {
		return Plain, fulltext, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(fulltext); err != nil {
		return Plain, nil, errors.Wrap(err, "gzip-compressing representation body")
	}
	if err := zw.Close(); err != nil {
		return Plain, nil, errors.Wrap(err, "closing gzip writer")
	}
	if buf.Len() >= len(fulltext) {
		// Compression didn't pay off (e.g. high-entropy text); store
		// raw rather than pay gzip's overhead for nothing.
		return Plain, fulltext, nil
	}
	return PlainCompressed, buf.Bytes(), nil
}

// DecodePlainBody reverses EncodePlainBody given the Kind recovered
// from a representation's on-disk header.
func DecodePlainBody(kind Kind, payload []byte) ([]byte, error) {
	if kind != PlainCompressed {
		return payload, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "opening gzip reader for representation body")
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing representation body")
	}
	return data, nil
}

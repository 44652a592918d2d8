package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/dharsanguruparan/CatalogDrop/internal/sanitize"
)

// spooled is sanitized upload content parked in a temp file.
type spooled struct {
	f       *os.File
	hash    string
	size    int64
	rawSize int64
	lines   int
}

func (s *spooled) remove() {
	s.f.Close()
	os.Remove(s.f.Name())
}

// spool sanitizes body into a temp file while hashing what is written, so the
// digest covers exactly the bytes that are later stored and parsed.
func (g *Gateway) spool(body io.Reader) (*spooled, error) {
	if body == nil {
		return nil, fmt.Errorf("read upload: no content")
	}
	tmp, err := os.CreateTemp(g.tempDir, "catalogdrop-*.csv")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	s := &spooled{f: tmp}

	raw := &countingReader{r: body}
	out := &countingWriter{}
	h := sha256.New()
	lines, err := sanitize.Content(raw, io.MultiWriter(tmp, h, out))
	if err != nil {
		s.remove()
		return nil, fmt.Errorf("read upload: %w", err)
	}
	s.hash = hex.EncodeToString(h.Sum(nil))
	s.size = out.n
	s.rawSize = raw.n
	s.lines = lines
	return s, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

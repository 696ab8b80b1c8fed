package bf

import "io"

// CRLFWriter turns every '\n' into "\r\n". Terminals attached through
// docker and Windows consoles need it.
type CRLFWriter struct {
	w io.Writer
}

func NewCRLFWriter(w io.Writer) *CRLFWriter {
	return &CRLFWriter{w: w}
}

// Write reports len(p) on success so callers see their own byte count.
func (c *CRLFWriter) Write(p []byte) (int, error) {
	start := 0
	for j, b := range p {
		if b != '\n' {
			continue
		}
		if _, err := c.w.Write(p[start:j]); err != nil {
			return start, err
		}
		if _, err := c.w.Write([]byte("\r\n")); err != nil {
			return j, err
		}
		start = j + 1
	}
	if start < len(p) {
		if n, err := c.w.Write(p[start:]); err != nil {
			return start + n, err
		}
	}
	return len(p), nil
}

// internal/protocol/framing.go
package protocol

// Framer splits a byte stream into lines. CR and LF both terminate a line,
// so CRLF yields one line and empty lines are dropped. A partial line is
// kept until its terminator arrives; no length limit is applied.
type Framer struct {
	partial []byte
}

// NewFramer creates an empty framer
func NewFramer() *Framer {
	return &Framer{}
}

// Feed consumes one chunk and returns the lines it completed
func (f *Framer) Feed(chunk []byte) []string {
	var lines []string
	for _, b := range chunk {
		if b == '\r' || b == '\n' {
			if len(f.partial) > 0 {
				lines = append(lines, string(f.partial))
				f.partial = f.partial[:0]
			}
			continue
		}
		f.partial = append(f.partial, b)
	}
	return lines
}

// Pending returns the number of buffered bytes without a terminator
func (f *Framer) Pending() int {
	return len(f.partial)
}

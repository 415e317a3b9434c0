package executor

import (
	"bytes"
	"strings"
)

// LineSplitter turns a byte stream into lines, carrying the unterminated tail
// over to the next chunk.
type LineSplitter struct {
	partial []byte
}

// Feed consumes a chunk and returns every line it completed.
func (s *LineSplitter) Feed(chunk []byte) []string {
	var lines []string
	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			s.partial = append(s.partial, chunk...)
			break
		}
		s.partial = append(s.partial, chunk[:idx]...)
		lines = append(lines, trimLine(s.partial))
		s.partial = s.partial[:0]
		chunk = chunk[idx+1:]
	}
	return lines
}

// Partial returns the current unterminated tail.
func (s *LineSplitter) Partial() string {
	return trimLine(s.partial)
}

// Flush returns the unterminated tail as a final line.
func (s *LineSplitter) Flush() (string, bool) {
	if len(s.partial) == 0 {
		return "", false
	}
	line := trimLine(s.partial)
	s.partial = s.partial[:0]
	return line, true
}

func trimLine(b []byte) string {
	return strings.TrimRight(string(b), "\r")
}

package bridge

// LineSplitter cuts a byte stream into lines ended by CR, LF or CRLF.
// A trailing partial line is kept until its terminator arrives.
type LineSplitter struct {
	partial []byte
	lastCR  bool
}

// Feed consumes data and returns the lines it completed, without terminators
func (s *LineSplitter) Feed(data []byte) []string {
	var lines []string
	for _, c := range data {
		switch c {
		case '\n':
			if s.lastCR {
				s.lastCR = false
				continue
			}
			lines = append(lines, string(s.partial))
			s.partial = s.partial[:0]
		case '\r':
			s.lastCR = true
			lines = append(lines, string(s.partial))
			s.partial = s.partial[:0]
			continue
		default:
			s.partial = append(s.partial, c)
		}
		s.lastCR = false
	}
	return lines
}

// Pending returns the unterminated tail
func (s *LineSplitter) Pending() string { return string(s.partial) }

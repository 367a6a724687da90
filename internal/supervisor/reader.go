package supervisor

import (
	"bufio"
	"bytes"
	"io"
)

// MaxLineBytes caps how many bytes of a single line are buffered before the
// accumulated prefix is flushed as its own NodeOutput fragment.
const MaxLineBytes = 64 * 1024

// lineReader yields newline-delimited lines with a hard cap on buffering.
type lineReader struct {
	br *bufio.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{br: bufio.NewReaderSize(r, MaxLineBytes)}
}

// next returns the next line or fragment.
//
//	fragment == true  - the buffer filled before a newline arrived; line
//	                    holds MaxLineBytes of raw data and more follows.
//	err == nil        - line is a complete line, terminator stripped.
//	err == io.EOF     - stream ended; line holds any unterminated tail.
func (l *lineReader) next() (line []byte, fragment bool, err error) {
	line, err = l.br.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return line, true, nil
	}
	if err != nil {
		return line, false, err
	}
	return trimEOL(line), false, nil
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

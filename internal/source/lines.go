package source

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

const defaultMaxLineBytes = 4096

// lineReader reads newline-terminated lines across read deadlines: bytes
// read before a timeout are kept and prefixed to the next line.
type lineReader struct {
	r        *bufio.Reader
	pending  []byte
	max      int
	skipping bool
}

func newLineReader(r io.Reader, max int) *lineReader {
	if max <= 0 {
		max = defaultMaxLineBytes
	}
	return &lineReader{r: bufio.NewReaderSize(r, max), max: max}
}

// readLine returns the next line, trimmed. Lines longer than max are
// discarded and reported as ErrMalformedFrame once their terminator arrives.
func (lr *lineReader) readLine() (string, error) {
	for {
		chunk, err := lr.r.ReadSlice('\n')
		if lr.skipping {
			switch err {
			case nil:
				lr.skipping = false
				return "", fmt.Errorf("%w: line exceeds %d bytes", ErrMalformedFrame, lr.max)
			case bufio.ErrBufferFull:
				continue
			default:
				return "", err
			}
		}
		if err == bufio.ErrBufferFull || len(lr.pending)+len(chunk) > lr.max {
			lr.pending = lr.pending[:0]
			if err == nil {
				return "", fmt.Errorf("%w: line exceeds %d bytes", ErrMalformedFrame, lr.max)
			}
			lr.skipping = true
			if err == bufio.ErrBufferFull {
				continue
			}
			return "", err
		}

		lr.pending = append(lr.pending, chunk...)
		if err != nil {
			return "", err
		}
		line := string(bytes.TrimSpace(lr.pending))
		lr.pending = lr.pending[:0]
		return line, nil
	}
}

// hasLine reports whether a complete line is already buffered, so reading it
// will not block.
func (lr *lineReader) hasLine() bool {
	n := lr.r.Buffered()
	if n == 0 {
		return false
	}
	peek, _ := lr.r.Peek(n)
	return bytes.IndexByte(peek, '\n') >= 0
}

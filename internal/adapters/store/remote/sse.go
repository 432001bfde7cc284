package remote

import (
	"bufio"
	"io"
)

// newSSEScanner returns a line scanner with a buffer large enough for
// full-document change batches.
func newSSEScanner(reader io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	return scanner
}

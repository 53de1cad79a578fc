package netclient

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/arloliu/go-acq400/acq"
)

// FuzzReadLine fuzzes the line reader used by RecvLine.
//
// It feeds arbitrary bytes through a small bufio.Reader so long lines cross the
// buffer boundary, and verifies that readLine never panics, never returns a line
// longer than the limit, never leaves a terminator in the line, and only fails
// with a ProtocolError, io.EOF or io.ErrUnexpectedEOF.
func FuzzReadLine(f *testing.F) {
	f.Add([]byte("SIG:CLK_MB:FREQ 50012464\n"), 64)
	f.Add([]byte("shot 348\r\n"), 64)
	f.Add([]byte("\n\n"), 8)
	f.Add([]byte("no terminator"), 64)
	f.Add([]byte(""), 16)
	f.Add([]byte("0123456789abcdef0123456789abcdef\n"), 16)
	f.Add([]byte("\r\r\r\n"), 2)

	f.Fuzz(func(t *testing.T, data []byte, maxLen int) {
		if maxLen < 1 || maxLen > 1<<16 {
			t.Skip()
		}

		r := bufio.NewReaderSize(bytes.NewReader(data), 16)
		consumed := 0
		for {
			line, n, err := readLine(r, maxLen)
			consumed += n
			if err != nil {
				var perr *acq.ProtocolError
				if !errors.As(err, &perr) && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					t.Fatalf("unexpected error %v", err)
				}
				break
			}

			if len(line) > maxLen+1 {
				t.Fatalf("line of %d bytes exceeds limit %d", len(line), maxLen)
			}
			if strings.ContainsRune(line, '\n') {
				t.Fatalf("terminator left in %q", line)
			}
			if n != len(line)+1 && n != len(line)+2 {
				t.Fatalf("consumed %d bytes for line %q", n, line)
			}
		}

		if consumed > len(data) {
			t.Fatalf("consumed %d of %d bytes", consumed, len(data))
		}
	})
}

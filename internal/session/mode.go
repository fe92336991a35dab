package session

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"pack.ag/tftp/netascii"

	"github.com/1ureka/tftp3303/internal/protocol"
)

// SupportedMode reports whether mode is one the transfer roles can carry.
// Mail mode is obsolete and refused.
func SupportedMode(mode string) bool {
	switch protocol.NormalizeMode(mode) {
	case protocol.ModeNetASCII, protocol.ModeOctet:
		return true
	}
	return false
}

// EncodeMode converts file content into its on-the-wire form for mode.
// Only netascii changes anything.
func EncodeMode(mode string, data []byte) ([]byte, error) {
	if protocol.NormalizeMode(mode) != protocol.ModeNetASCII {
		return data, nil
	}

	var buf bytes.Buffer
	var enc io.Writer = netascii.NewWriter(&buf)
	if _, err := enc.Write(data); err != nil {
		return nil, fmt.Errorf("netascii encode: %w", err)
	}
	if flusher, ok := enc.(interface{ Flush() error }); ok {
		if err := flusher.Flush(); err != nil {
			return nil, fmt.Errorf("netascii encode: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeWriter wraps w so that wire bytes written to it arrive at w as file
// content for mode. Close must be called once the transfer ends; it returns
// the first error w reported.
func DecodeWriter(mode string, w io.Writer) io.WriteCloser {
	if protocol.NormalizeMode(mode) != protocol.ModeNetASCII {
		return nopCloser{w}
	}

	pr, pw := io.Pipe()
	d := &netasciiWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := io.Copy(w, netascii.NewReader(pr))
		pr.CloseWithError(err)
		d.done <- err
	}()
	return d
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// netasciiWriter feeds a netascii decoder through a pipe; the decoder only
// exists as an io.Reader.
type netasciiWriter struct {
	pw   *io.PipeWriter
	done chan error

	closeOnce sync.Once
	closeErr  error
}

func (d *netasciiWriter) Write(p []byte) (int, error) {
	return d.pw.Write(p)
}

func (d *netasciiWriter) Close() error {
	d.closeOnce.Do(func() {
		d.pw.Close()
		d.closeErr = <-d.done
	})
	return d.closeErr
}

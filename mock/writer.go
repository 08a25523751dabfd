// Package mock provides a chain writer for tests.
package mock

import (
	"net"
)

// Writer records bytes written to a pretend client.
type Writer struct {
	data       []byte
	remoteAddr net.Addr
}

// NewWriter returns a writer for a fake client address.
func NewWriter(addr string) *Writer {
	w := &Writer{}
	w.remoteAddr, _ = net.ResolveUDPAddr("udp", addr)
	return w
}

// Write records the raw payload.
func (w *Writer) Write(raw []byte) (int, error) {
	w.data = append([]byte(nil), raw...)
	return len(raw), nil
}

// Data returns the last recorded payload, nil if nothing was written.
func (w *Writer) Data() []byte { return w.data }

// RemoteAddr returns the fake client address.
func (w *Writer) RemoteAddr() net.Addr { return w.remoteAddr }

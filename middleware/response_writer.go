package middleware

import (
	"errors"
	"net"
)

// Writer is the transport half a chain writes through: it can send raw bytes
// to the client of the current query and knows the client's address.
type Writer interface {
	Write(raw []byte) (int, error)
	RemoteAddr() net.Addr
}

// ResponseWriter is the chain's view of the client connection. It tracks
// whether anything was sent so logging handlers can tell a relayed response
// from a silent drop.
type ResponseWriter interface {
	Writer

	RemoteIP() net.IP
	Written() bool
	Reset(w Writer)
}

var errAlreadyWritten = errors.New("middleware: response already written")

type responseWriter struct {
	Writer
	written bool
}

func (w *responseWriter) Write(raw []byte) (int, error) {
	if w.written {
		return 0, errAlreadyWritten
	}

	n, err := w.Writer.Write(raw)
	if err == nil {
		w.written = true
	}
	return n, err
}

func (w *responseWriter) Written() bool {
	return w.written
}

func (w *responseWriter) RemoteIP() net.IP {
	switch addr := w.RemoteAddr().(type) {
	case *net.UDPAddr:
		return addr.IP
	case *net.TCPAddr:
		return addr.IP
	}

	host, _, err := net.SplitHostPort(w.RemoteAddr().String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func (w *responseWriter) Reset(underlying Writer) {
	w.Writer = underlying
	w.written = false
}

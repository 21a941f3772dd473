// Package serial adapts github.com/daedaluz/goserial to the
// transport.Transport interface, for running SECS-I over real RS-232C
// hardware instead of a TCP tunnel.
package serial

import (
	"context"
	"fmt"
	"time"

	goserial "github.com/daedaluz/goserial"

	"github.com/takumi-sec/gosecs/pkg/transport"
)

// Port is a transport.Transport backed by a serial line.
type Port struct {
	path string
	baud int
	port *goserial.Port
}

// New creates a serial Port transport for the given device path (e.g.
// "/dev/ttyUSB0") and baud rate. Open performs the actual device open and
// baud rate configuration.
func New(path string, baud int) *Port {
	return &Port{path: path, baud: baud}
}

var _ transport.Transport = (*Port)(nil)

func (p *Port) Open(ctx context.Context) error {
	opts := goserial.NewOptions().SetReadTimeout(100 * time.Millisecond)
	port, err := goserial.Open(p.path, opts)
	if err != nil {
		return fmt.Errorf("serial: open %s: %w", p.path, err)
	}

	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return fmt.Errorf("serial: read termios for %s: %w", p.path, err)
	}
	attrs.ISpeed = uint32(p.baud)
	attrs.OSpeed = uint32(p.baud)
	if err := port.SetAttr2(goserial.TCSANOW, attrs); err != nil {
		port.Close()
		return fmt.Errorf("serial: set baud rate %d on %s: %w", p.baud, p.path, err)
	}

	p.port = port
	return nil
}

func (p *Port) ReadBytes(ctx context.Context) ([]byte, error) {
	if p.port == nil {
		return nil, transport.ErrClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		p.port.SetReadTimeout(time.Until(deadline))
	}

	buf := make([]byte, 256)
	n, err := p.port.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (p *Port) WriteBytes(ctx context.Context, b []byte) error {
	if p.port == nil {
		return transport.ErrClosed
	}
	_, err := p.port.Write(b)
	return err
}

func (p *Port) Close() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

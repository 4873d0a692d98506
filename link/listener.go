package link

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/martindeegan/copter/config"
	"github.com/martindeegan/copter/internal/latest"
)

const maxDatagram = 1500

// Listener decodes operator datagrams and hands them to the control loop on
// channels that keep only recent values.
type Listener struct {
	addr   string
	logger *zap.Logger

	inputs chan ControlInput
	modes  chan ModeCommand
	stop   chan struct{}
}

// NewListener returns a listener for cfg.ListenAddr.
func NewListener(cfg config.Link, logger *zap.Logger) *Listener {
	return &Listener{
		addr:   cfg.ListenAddr,
		logger: logger.Named("link"),
		inputs: make(chan ControlInput, 1),
		modes:  make(chan ModeCommand, 1),
		stop:   make(chan struct{}, 1),
	}
}

// Inputs is the stream of operator setpoints.
func (l *Listener) Inputs() <-chan ControlInput { return l.inputs }

// Modes is the stream of mode requests.
func (l *Listener) Modes() <-chan ModeCommand { return l.modes }

// Stop receives a value when an emergency stop arrives.
func (l *Listener) Stop() <-chan struct{} { return l.stop }

// Run reads datagrams until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", l.addr)
	if err != nil {
		return errors.Wrapf(err, "error listening on %s", l.addr)
	}
	l.logger.Info("listening for operator", zap.String("addr", conn.LocalAddr().String()))
	return l.serve(ctx, conn)
}

func (l *Listener) serve(ctx context.Context, conn net.PacketConn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "error reading operator datagram")
		}
		if err := l.Handle(buf[:n]); err != nil {
			l.logger.Debug("dropping datagram", zap.Stringer("from", from), zap.Error(err))
		}
	}
}

// Handle decodes one datagram and routes it.
func (l *Listener) Handle(b []byte) error {
	m, err := Decode(b)
	if err != nil {
		return err
	}
	switch m := m.(type) {
	case ControlInput:
		latest.Offer(l.inputs, m)
	case ModeCommand:
		l.logger.Info("mode requested", zap.Stringer("mode", m.Mode), zap.Int("waypoints", len(m.Path)))
		latest.Offer(l.modes, m)
	case EmergencyStop:
		l.logger.Warn("emergency stop received")
		latest.Offer(l.stop, struct{}{})
	}
	return nil
}

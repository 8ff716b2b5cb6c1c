package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voxcore/crypto"
	"github.com/opd-ai/voxcore/gateway"
	"github.com/opd-ai/voxcore/rtp"
	"github.com/opd-ai/voxcore/transport"
)

// established is a finished handshake not yet installed.
type established struct {
	session   Session
	ws        gateway.Conn
	transport *transport.Transport
	interval  time.Duration
}

// start keys the transport with fresh random RTP counters.
func (e *established) start() error {
	cipher, err := crypto.NewCipher(e.session.Mode, e.session.Key)
	if err != nil {
		return err
	}
	packets, err := rtp.NewPacketState(e.session.SSRC)
	if err != nil {
		return err
	}
	return e.transport.Start(cipher, packets)
}

func (e *established) close() {
	if e.ws != nil {
		_ = e.ws.Close(gateway.CloseNormal, "")
	}
	if e.transport != nil {
		_ = e.transport.Close()
	}
}

// handshake runs Identify through SessionDescription. When initial is set
// it drives the Discovering and Handshaking states.
func (c *Connection) handshake(parent context.Context, info Info, initial bool) (*established, error) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.ConnectTimeout)
	defer cancel()

	est := &established{session: Session{Info: info}}
	if err := c.negotiate(ctx, est, initial); err != nil {
		est.close()
		return nil, c.handshakeError(ctx, parent, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Connection.handshake",
		"ssrc":     est.session.SSRC,
		"external": est.session.External.String(),
		"mode":     est.session.Mode.String(),
	}).Debug("Handshake complete")
	return est, nil
}

func (c *Connection) negotiate(ctx context.Context, est *established, initial bool) error {
	info := est.session.Info
	ws, err := c.dialer.Dial(ctx, info.Endpoint)
	if err != nil {
		return err
	}
	est.ws = ws
	stop := context.AfterFunc(ctx, func() { _ = ws.Close(gateway.CloseNormal, "") })
	defer stop()

	err = ws.Send(ctx, gateway.OpIdentify, gateway.Identify{
		ServerID:  info.GuildID.String(),
		UserID:    info.UserID.String(),
		SessionID: info.SessionID,
		Token:     info.Token,
	})
	if err != nil {
		return err
	}

	var ready gateway.Ready
	if err := c.await(ctx, est, gateway.OpReady, &ready); err != nil {
		return err
	}
	est.session.SSRC = ready.SSRC
	est.session.Server = transport.Address{IP: ready.IP, Port: ready.Port}

	est.transport, err = c.dialUDP(ctx, net.JoinHostPort(ready.IP, strconv.Itoa(int(ready.Port))), c.cfg.Transport, c.bus)
	if err != nil {
		return fmt.Errorf("failed to open media socket: %w", err)
	}
	est.session.External, err = est.transport.Discover(ctx, ready.SSRC)
	if err != nil {
		return err
	}

	if initial {
		if err := c.machine.fire(evHandshake); err != nil {
			return err
		}
	}

	mode, err := crypto.Negotiate(c.cfg.Modes, ready.Modes)
	if err != nil {
		return fmt.Errorf("%w: server offers %v", ErrCryptoNegotiationFailed, ready.Modes)
	}
	err = ws.Send(ctx, gateway.OpSelectProtocol, gateway.SelectProtocol{
		Protocol: "udp",
		Data: gateway.SelectProtocolData{
			Address: est.session.External.IP,
			Port:    est.session.External.Port,
			Mode:    mode.String(),
		},
	})
	if err != nil {
		return err
	}

	var desc gateway.SessionDescription
	if err := c.await(ctx, est, gateway.OpSessionDescription, &desc); err != nil {
		return err
	}
	if est.session.Mode, err = crypto.ParseMode(desc.Mode); err != nil {
		return fmt.Errorf("%w: %v", ErrCryptoNegotiationFailed, err)
	}
	if est.session.Key, err = desc.Key(); err != nil {
		return err
	}

	if est.interval == 0 {
		return c.await(ctx, est, gateway.OpHello, nil)
	}
	return nil
}

// await reads until a message with opcode want arrives and decodes it into
// v. A Hello seen on the way sets the heartbeat interval.
func (c *Connection) await(ctx context.Context, est *established, want gateway.Opcode, v any) error {
	for {
		p, err := est.ws.Receive(ctx)
		if err != nil {
			return err
		}
		if p.Op == gateway.OpHello {
			var hello gateway.Hello
			if err := p.Decode(&hello); err != nil {
				return err
			}
			est.interval = time.Duration(hello.HeartbeatInterval * float64(time.Millisecond))
			if want == gateway.OpHello {
				return nil
			}
			continue
		}
		if p.Op == want {
			if v == nil {
				return nil
			}
			return p.Decode(v)
		}

		logrus.WithFields(logrus.Fields{
			"function": "Connection.await",
			"want":     want.String(),
			"got":      p.Op.String(),
		}).Debug("Skipping message during handshake")
	}
}

// handshakeError maps a handshake failure to the package's errors.
func (c *Connection) handshakeError(ctx, parent context.Context, err error) error {
	switch {
	case errors.Is(err, ErrCryptoNegotiationFailed), errors.Is(err, ErrTimeout):
		return err
	case parent.Err() != nil && !errors.Is(parent.Err(), context.DeadlineExceeded):
		return parent.Err()
	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, transport.ErrDiscoveryFailed), isNetTimeout(err):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case gateway.RecoveryFor(err) == gateway.RecoverNone:
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

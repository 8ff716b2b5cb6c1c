package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voxcore/crypto"
	"github.com/opd-ai/voxcore/gateway"
)

// closeResuming closes a signalling connection without ending the session
// on the server, unlike the normal closure codes.
const closeResuming = 4000

// lost starts recovery of a dropped session. It never blocks and only the
// first report of a loss has any effect.
func (c *Connection) lost(cause error, recovery gateway.Recovery) {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	ctx := c.runCtx
	if ctx == nil || ctx.Err() != nil {
		c.mu.Unlock()
		c.reconnecting.Store(false)
		return
	}
	if recovery != gateway.RecoverNone {
		if err := c.machine.fire(evLose); err != nil {
			c.mu.Unlock()
			c.reconnecting.Store(false)
			return
		}
	}
	c.reconnectWG.Add(1)
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Connection.lost",
		"cause":    cause.Error(),
		"recovery": recovery.String(),
	}).Warn("Voice session lost")

	go c.reconnect(ctx, cause, recovery)
}

func (c *Connection) reconnect(ctx context.Context, cause error, recovery gateway.Recovery) {
	defer c.reconnectWG.Done()
	defer c.reconnecting.Store(false)

	if recovery == gateway.RecoverNone {
		c.terminate(fmt.Errorf("%w: %v", ErrClosed, cause))
		return
	}

	c.mu.Lock()
	sig := c.signal
	c.signal, c.ws = nil, nil
	c.mu.Unlock()
	if sig != nil {
		sig.stop(closeResuming)
	}

	if recovery == gateway.RecoverResume {
		err := c.retry(ctx, c.cfg.MaxResumeAttempts, "resume", func() error { return c.Resume(ctx) })
		if err == nil || ctx.Err() != nil {
			return
		}
	}

	err := c.retry(ctx, c.cfg.MaxReconnectAttempts, "reconnect", func() error { return c.reconnectFull(ctx) })
	if err == nil || ctx.Err() != nil {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Connection.reconnect",
		"error":    err.Error(),
	}).Error("Giving up on voice session")
	c.terminate(err)
}

// retry runs op with exponential backoff. Refusals from the server are
// not retried.
func (c *Connection) retry(ctx context.Context, attempts int, method string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffInitial
	b.MaxInterval = c.cfg.BackoffMax
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if errors.Is(err, ErrClosed) || errors.Is(err, ErrCryptoNegotiationFailed) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		logrus.WithFields(logrus.Fields{
			"function": "Connection.retry",
			"method":   method,
			"attempt":  attempt,
			"wait":     wait.String(),
			"error":    err.Error(),
		}).Warn("Voice session recovery attempt failed")
	})

	c.metrics.Reconnect(method, err == nil)
	return err
}

// Resume reattaches to the current session over a new signalling
// connection. The media transport, its RTP counters and all tracks are
// kept.
func (c *Connection) Resume(ctx context.Context) error {
	state := c.State()
	if state != StateConnected && state != StateReconnecting {
		return ErrNotConnected
	}
	c.mu.Lock()
	info, session, interval := c.info, c.session, c.interval
	c.mu.Unlock()
	if session == nil {
		return ErrNotConnected
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	ws, err := c.dialer.Dial(attemptCtx, info.Endpoint)
	if err != nil {
		return c.handshakeError(attemptCtx, ctx, err)
	}
	stop := context.AfterFunc(attemptCtx, func() { _ = ws.Close(closeResuming, "") })
	est := &established{session: *session, ws: ws}

	err = ws.Send(attemptCtx, gateway.OpResume, gateway.Resume{
		ServerID:  info.GuildID.String(),
		SessionID: info.SessionID,
		Token:     info.Token,
	})
	if err == nil {
		err = c.await(attemptCtx, est, gateway.OpResumed, nil)
	}
	stop()
	if err != nil {
		_ = ws.Close(closeResuming, "")
		return c.handshakeError(attemptCtx, ctx, err)
	}
	if ctx.Err() != nil {
		_ = ws.Close(closeResuming, "")
		return ctx.Err()
	}
	if est.interval == 0 {
		est.interval = interval
	}

	c.mu.Lock()
	old := c.signal
	c.signal = nil
	c.mu.Unlock()
	if old != nil {
		old.stop(closeResuming)
	}

	if err := c.install(est, false); err != nil {
		return err
	}
	if c.State() == StateReconnecting {
		if err := c.machine.fire(evEstablish); err != nil {
			return err
		}
	}

	c.bus.Publish(Reconnected{GuildID: info.GuildID, SSRC: session.SSRC, Method: "resume"})
	logrus.WithFields(logrus.Fields{
		"function": "Connection.Resume",
		"guild_id": info.GuildID.String(),
	}).Info("Voice session resumed")
	return nil
}

// reconnectFull replaces the session with a new one, including a new
// media socket and fresh RTP counters.
func (c *Connection) reconnectFull(ctx context.Context) error {
	c.mu.Lock()
	info, old := c.info, c.transport
	c.transport = nil
	c.mu.Unlock()
	if old != nil {
		c.notifyTransport(nil)
		_ = old.Close()
	}

	est, err := c.handshake(ctx, info, false)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		est.close()
		return ctx.Err()
	}
	if err := c.install(est, true); err != nil {
		return err
	}
	if err := c.machine.fire(evEstablish); err != nil {
		return err
	}

	c.bus.Publish(Reconnected{GuildID: info.GuildID, SSRC: est.session.SSRC, Method: "reconnect"})
	logrus.WithFields(logrus.Fields{
		"function": "Connection.reconnectFull",
		"guild_id": info.GuildID.String(),
		"ssrc":     est.session.SSRC,
	}).Info("Voice session re-established")
	return nil
}

// rekey applies a session description received mid-session.
func (c *Connection) rekey(desc gateway.SessionDescription) error {
	mode, err := crypto.ParseMode(desc.Mode)
	if err != nil {
		return err
	}
	key, err := desc.Key()
	if err != nil {
		return err
	}
	cipher, err := crypto.NewCipher(mode, key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.transport == nil {
		return ErrNotConnected
	}
	if err := c.transport.Start(cipher, c.transport.PacketState()); err != nil {
		return err
	}
	next := *c.session
	next.Mode, next.Key = mode, key
	c.session = &next
	return nil
}

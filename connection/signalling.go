package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voxcore/gateway"
	"github.com/opd-ai/voxcore/id"
)

// defaultHeartbeatInterval applies if Hello carried no usable interval.
const defaultHeartbeatInterval = 5 * time.Second

// signalling owns the goroutines serving one gateway.Conn.
type signalling struct {
	ws     gateway.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *signalling) stop(code int) {
	s.once.Do(func() {
		s.cancel()
		_ = s.ws.Close(code, "")
		s.wg.Wait()
	})
}

func (c *Connection) startSignalling(ws gateway.Conn, interval time.Duration) *signalling {
	ctx, cancel := context.WithCancel(context.Background())
	s := &signalling{ws: ws, cancel: cancel}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.readLoop(ctx, ws)
	}()
	go func() {
		defer s.wg.Done()
		c.heartbeatLoop(ctx, interval)
	}()
	return s
}

func (c *Connection) readLoop(ctx context.Context, ws gateway.Conn) {
	for {
		p, err := ws.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "Connection.readLoop",
				"error":    err.Error(),
				"recovery": gateway.RecoveryFor(err).String(),
			}).Warn("Signalling connection lost")
			c.lost(err, gateway.RecoveryFor(err))
			return
		}
		c.handle(p)
	}
}

func (c *Connection) heartbeatLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HeartbeatTick(ctx); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Connection.heartbeatLoop",
					"error":    err.Error(),
				}).Debug("Heartbeat failed")
			}
		}
	}
}

// HeartbeatTick sends one heartbeat and UDP keepalive. When too many
// earlier heartbeats went unacknowledged it drops the session instead.
func (c *Connection) HeartbeatTick(ctx context.Context) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	c.mu.Lock()
	ws, tr := c.ws, c.transport
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	if missed := int(c.missed.Load()); missed >= c.cfg.MaxMissedHeartbeats {
		err := fmt.Errorf("%w: %d outstanding", ErrHeartbeatTimeout, missed)
		c.lost(err, gateway.RecoverResume)
		return err
	}

	now := c.clock.Now()
	nonce := uint64(now.UnixMilli())
	c.nonce.Store(nonce)
	c.sentAt.Store(now.UnixNano())
	c.missed.Add(1)

	if err := ws.Send(ctx, gateway.OpHeartbeat, nonce); err != nil {
		c.lost(err, gateway.RecoveryFor(err))
		return err
	}
	if tr != nil {
		if err := tr.Keepalive(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Connection.HeartbeatTick",
				"error":    err.Error(),
			}).Debug("UDP keepalive failed")
		}
	}
	return nil
}

func (c *Connection) handle(p gateway.Payload) {
	switch p.Op {
	case gateway.OpHeartbeatAck:
		var nonce uint64
		if err := p.Decode(&nonce); err == nil && nonce != c.nonce.Load() {
			logrus.WithFields(logrus.Fields{
				"function": "Connection.handle",
				"nonce":    nonce,
			}).Debug("Heartbeat ack for an older nonce")
		}
		c.missed.Store(0)
		if sent := c.sentAt.Load(); sent != 0 {
			c.metrics.HeartbeatRTT(c.clock.Since(time.Unix(0, sent)))
		}

	case gateway.OpSpeaking:
		var sp gateway.Speaking
		if err := p.Decode(&sp); err != nil {
			c.skip(p, err)
			return
		}
		user, _ := id.ParseUserID(sp.UserID)
		if !user.IsZero() {
			c.speakersMu.Lock()
			c.speakers[sp.SSRC] = user
			c.speakersMu.Unlock()
		} else {
			user, _ = c.UserForSSRC(sp.SSRC)
		}
		c.bus.Publish(SpeakingUpdate{SSRC: sp.SSRC, UserID: user, Speaking: sp.Speaking != 0})

	case gateway.OpClientDisconnect:
		var cd gateway.ClientDisconnect
		if err := p.Decode(&cd); err != nil {
			c.skip(p, err)
			return
		}
		user, err := id.ParseUserID(cd.UserID)
		if err != nil {
			c.skip(p, err)
			return
		}
		c.forgetUser(user)
		c.bus.Publish(ClientDisconnected{UserID: user})

	case gateway.OpSessionDescription:
		var desc gateway.SessionDescription
		if err := p.Decode(&desc); err != nil {
			c.skip(p, err)
			return
		}
		if err := c.rekey(desc); err != nil {
			c.skip(p, err)
		}

	case gateway.OpHello, gateway.OpResumed, gateway.OpReady:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Connection.handle",
			"op":       p.Op.String(),
		}).Debug("Ignoring signalling message")
	}
}

func (c *Connection) skip(p gateway.Payload, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "Connection.handle",
		"op":       p.Op.String(),
		"error":    err.Error(),
	}).Warn("Dropping malformed signalling message")
}

func (c *Connection) forgetUser(user id.UserID) {
	var ssrcs []uint32
	c.speakersMu.Lock()
	for ssrc, u := range c.speakers {
		if u == user {
			ssrcs = append(ssrcs, ssrc)
			delete(c.speakers, ssrc)
		}
	}
	c.speakersMu.Unlock()

	if tr := c.Transport(); tr != nil {
		for _, ssrc := range ssrcs {
			tr.Forget(ssrc)
		}
	}
}

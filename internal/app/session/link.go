package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sigchat/internal/pkg/errs"
	"sigchat/internal/protocol"
)

// link is one adopted transport together with its read and write pumps.
// Every event it posts carries its generation so the run loop can drop events
// from a transport that has since been superseded.
type link struct {
	gen       uint64
	transport Transport

	// ready is the transport-ready flag read by IsActive.
	ready atomic.Bool

	// a buffered channel used to queue frames waiting to be written.
	send chan []byte

	// done stops the write pump.
	done      chan struct{}
	closeOnce sync.Once

	pingPeriod time.Duration
	logger     zerolog.Logger
}

func newLink(gen uint64, t Transport, queueSize int, pingPeriod time.Duration, logger zerolog.Logger) *link {
	l := &link{
		gen:        gen,
		transport:  t,
		send:       make(chan []byte, queueSize),
		done:       make(chan struct{}),
		pingPeriod: pingPeriod,
		logger:     logger.With().Uint64("generation", gen).Logger(),
	}
	l.ready.Store(true)
	return l
}

// enqueue queues a frame for the write pump without blocking.
func (l *link) enqueue(frame []byte) error {
	if !l.ready.Load() {
		return errs.NewError(errs.ErrSendWhileDisconnected)
	}

	select {
	case l.send <- frame:
		return nil
	default:
		l.logger.Warn().Int("queue_len", len(l.send)).Msg("Send queue full, dropping frame")
		return errs.NewError(errs.ErrSendQueueFull)
	}
}

// close marks the link not ready, stops the write pump and closes the transport once.
func (l *link) close(code int, reason string) {
	l.closeOnce.Do(func() {
		l.ready.Store(false)
		close(l.done)

		if err := l.transport.Close(code, reason); err != nil {
			l.logger.Debug().Err(err).Int("close_code", code).Msg("Transport close returned error")
		}
	})
}

// readPump reads frames in delivery order, decodes them and posts them to the run loop.
// Malformed frames are logged and dropped. When the transport ends it posts exactly one
// closed event.
func (l *link) readPump(post func(loopEvent) bool) {
	for {
		frame, err := l.transport.ReadFrame()
		if err != nil {
			l.ready.Store(false)
			post(transportClosed{gen: l.gen, code: CloseCode(err), err: err})
			return
		}

		ev, err := protocol.Decode(frame)
		if err != nil {
			l.logger.Warn().Err(err).Int("frame_bytes", len(frame)).Msg("Dropping malformed frame")
			continue
		}

		if !post(inboundEvent{gen: l.gen, event: ev}) {
			return
		}
	}
}

// writePump drains the send queue to the transport and sends periodic pings.
// A write failure closes the transport, which ends the read pump.
func (l *link) writePump() {
	var tick <-chan time.Time
	if l.pingPeriod > 0 {
		ticker := time.NewTicker(l.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case frame := <-l.send:
			if err := l.transport.WriteFrame(frame); err != nil {
				l.logger.Error().Err(err).Msg("Error writing frame")
				l.abort()
				return
			}

		case <-tick:
			if err := l.transport.Ping(); err != nil {
				l.logger.Error().Err(err).Msg("Error writing ping")
				l.abort()
				return
			}

		case <-l.done:
			return
		}
	}
}

// abort closes the transport after a failed write so the read pump ends and the
// run loop sees the connection as lost.
func (l *link) abort() {
	l.ready.Store(false)
	if err := l.transport.Close(closeGoingAway, "write failure"); err != nil {
		l.logger.Debug().Err(err).Msg("Transport abort returned error")
	}
}

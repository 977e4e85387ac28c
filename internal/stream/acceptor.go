package stream

import (
	"errors"
	"log/slog"
	"time"

	"github.com/yegors/RTLSDR-Airband/internal/transport"
)

// lowLatencyOptions make sends and receives non-blocking and turn off paced
// delivery, so a listener gets each chunk as soon as it is sent.
var lowLatencyOptions = []struct {
	opt   transport.Option
	value int
}{
	{transport.OptSendSync, 0},
	{transport.OptRecvSync, 0},
	{transport.OptTimestampDelivery, 0},
	{transport.OptLatency, 0},
}

// applyLowLatency sets lowLatencyOptions on a socket. Failures are logged and
// otherwise ignored.
func applyLowLatency(set func(transport.Option, int) error, logger *slog.Logger, target string) {
	for _, o := range lowLatencyOptions {
		if err := set(o.opt, o.value); err != nil {
			logger.Debug("Failed to set socket option",
				slog.String("target", target),
				slog.String("option", o.opt.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// acceptPending drains every waiting connection into the registry. Any
// Accept error ends the poll for this cycle.
func (e *Engine) acceptPending() {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if !errors.Is(err, transport.ErrNoPending) {
				e.logger.Debug("Accept poll ended", slog.String("error", err.Error()))
			}
			return
		}

		applyLowLatency(conn.SetOption, e.logger, conn.RemoteAddr())
		s := e.registry.Add(conn, time.Now())

		e.stats.SessionsAccepted++
		e.metrics.RecordSessionAccepted()
		e.logger.Info("Listener connected",
			slog.Uint64("session_id", s.ID),
			slog.String("remote_addr", s.RemoteAddr),
			slog.Int("active_sessions", e.registry.Len()),
		)
	}
}

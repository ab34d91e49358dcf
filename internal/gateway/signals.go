package gateway

import "tradelab/internal/live"

// PublishSignal implements live.Publisher.
func (h *Hub) PublishSignal(sig live.Signal) {
	if err := h.Publish(SignalChannel(sig.Symbol), sig); err != nil {
		h.log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("encode signal")
	}
}

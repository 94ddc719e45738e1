package host

// Metrics is a thread-safe read-only view of host runtime signals. It is
// published from the tick loop and read from HTTP handlers and tests.
type Metrics struct {
	Tick uint64 `json:"tick"`

	Sessions        int `json:"sessions"`
	Observers       int `json:"observers"`
	ResidentColumns int `json:"resident_columns"`

	PacketsInTotal        uint64 `json:"packets_in_total"`
	PacketsOutTotal       uint64 `json:"packets_out_total"`
	DecodeErrorsTotal     uint64 `json:"decode_errors_total"`
	SendErrorsTotal       uint64 `json:"send_errors_total"`
	GeneratedTotal        uint64 `json:"generated_total"`
	ServedTotal           uint64 `json:"served_total"`
	SessionsTimedOutTotal uint64 `json:"sessions_timed_out_total"`
}

func (h *Host) Metrics() Metrics {
	if h == nil {
		return Metrics{}
	}
	m, _ := h.metrics.Load().(Metrics)
	return m
}

func (h *Host) publishMetrics(tick uint64) {
	h.metrics.Store(Metrics{
		Tick:                  tick,
		Sessions:              len(h.sessions),
		Observers:             len(h.observers),
		ResidentColumns:       h.svc.Store().Len(),
		PacketsInTotal:        h.packetsIn,
		PacketsOutTotal:       h.packetsOut,
		DecodeErrorsTotal:     h.decodeErrors,
		SendErrorsTotal:       h.sendErrors,
		GeneratedTotal:        h.generated,
		ServedTotal:           h.served,
		SessionsTimedOutTotal: h.timedOutTotal,
	})
}

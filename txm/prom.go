package txm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promBroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_relayer_tx_broadcasts_total",
		Help: "Number of first-time transaction broadcasts",
	})
	promResendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_relayer_tx_resends_total",
		Help: "Number of fee-bump resend broadcasts",
	})
	promTerminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_relayer_tx_terminal_total",
		Help: "Number of tracked transactions reaching a terminal status",
	}, []string{"status"})
	promInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wallet_relayer_tx_inflight",
		Help: "Number of tracked transactions not yet terminal",
	})
)

func (t *Txm) updateInflightProm() {
	promInflight.Set(float64(t.store.InflightCount()))
}

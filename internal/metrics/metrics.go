// Package metrics registers the Prometheus collectors the bridge
// exposes on /metrics, grouped by the subsystem each one instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Database connection metrics
	// ============================================
	DBConnectionPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_db_connection_pool_size",
		Help: "Database connection pool size",
	})

	DBConnectionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_db_connection_active",
		Help: "Number of active database connections",
	})

	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	// ============================================
	// NATS connection metrics
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_nats_events_published_total",
			Help: "Total number of relayer lifecycle events published",
		},
		[]string{"event_type"},
	)

	// ============================================
	// Zcash -> Miden relayer metrics
	// ============================================
	ZcashRelayerTickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_zcash_relayer_tick_errors_total",
		Help: "Total number of failed Zcash relayer ticks",
	})

	DepositMintSuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_deposit_mint_successes_total",
		Help: "Total number of deposit notes minted on Miden",
	})

	DepositMintFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_deposit_mint_failures_total",
		Help: "Total number of failed deposit mint attempts",
	})

	DepositsQuarantined = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_deposits_quarantined",
		Help: "Number of deposit intents currently quarantined",
	})

	// ============================================
	// Miden -> Zcash relayer metrics
	// ============================================
	MidenRelayerTickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_miden_relayer_tick_errors_total",
		Help: "Total number of failed Miden relayer ticks",
	})

	WithdrawalPayoutSuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_withdrawal_payout_successes_total",
		Help: "Total number of withdrawals paid out on Zcash",
	})

	WithdrawalPayoutFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_withdrawal_payout_failures_total",
		Help: "Total number of failed withdrawal payout attempts",
	})

	// ============================================
	// Bridge pool balance gauges
	// ============================================
	ZcashPoolBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_zcash_pool_balance_zatoshi",
		Help: "Bridge-custodied Zcash shielded pool balance, in zatoshi",
	})

	MidenVaultBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_miden_vault_balance_base",
		Help: "Bridge account's Miden vault balance, in the faucet's base unit",
	})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_webhooks_received_total",
		Help: "Webhook deliveries by provider and pipeline outcome.",
	}, []string{"provider", "outcome"})

	PaymentsInitialized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_payments_initialized_total",
		Help: "Payment intents created by provider.",
	}, []string{"provider"})

	LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_ledger_mutations_total",
		Help: "Committed ledger mutations by operation.",
	}, []string{"operation"})

	UnresolvedWebhooks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paygate_webhooks_unresolved_total",
		Help: "Acknowledged webhooks whose ledger application failed and await manual reconciliation.",
	})

	DepositsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paygate_deposits_expired_total",
		Help: "Deposit requests swept past their expiry.",
	})
)

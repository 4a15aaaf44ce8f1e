// Package metrics provides Prometheus metrics for the escrow engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrderTransitions counts order status transitions by target status.
	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mostro_order_transitions_total",
		Help: "Order status transitions by target status",
	}, []string{"to"})

	// HoldInvoicesCreated counts hold invoices registered on the node.
	HoldInvoicesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mostro_hold_invoices_created_total",
		Help: "Hold invoices created",
	})

	// InvoicesSettled counts hold invoices settled by preimage.
	InvoicesSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mostro_hold_invoices_settled_total",
		Help: "Hold invoices settled",
	})

	// InvoicesCanceled counts hold invoices released without payment.
	InvoicesCanceled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mostro_hold_invoices_canceled_total",
		Help: "Hold invoices canceled",
	})

	// Payments counts outbound payment outcomes: sent, duplicate, succeeded,
	// failed.
	Payments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mostro_payments_total",
		Help: "Outbound payment outcomes",
	}, []string{"result"})
)

// StartMetricsServer serves /metrics on addr in a background goroutine.
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}

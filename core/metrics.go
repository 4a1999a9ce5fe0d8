package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.MustRegister(SyncCounter)
	prometheus.MustRegister(WebhookCounter)
	prometheus.MustRegister(TokenRefreshCounter)
}

var SyncCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "fit_sync_total",
	Help: "Client-initiated sync requests",
})

var WebhookCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "fit_webhook_notifications_total",
	Help: "Push notifications received from the provider",
})

var TokenRefreshCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "fit_token_refresh_total",
	Help: "Refresh calls made to the provider token endpoint",
})

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CertificatesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealed_sender_certificates_issued_total",
		Help: "Total number of sender certificates issued",
	})

	CertificatesRevokedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealed_sender_certificates_revoked_total",
		Help: "Total number of sender certificates revoked",
	})

	CertificateVerificationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealed_sender_certificate_verification_failures_total",
		Help: "Certificate verification failures by reason",
	}, []string{"reason"})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealed_sender_deliveries_total",
		Help: "Outgoing messages by delivery mode (sealed, normal, fallback)",
	}, []string{"mode"})

	ReceiveFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealed_sender_receive_failures_total",
		Help: "Incoming messages that could not be decrypted, by error kind",
	}, []string{"kind"})
)

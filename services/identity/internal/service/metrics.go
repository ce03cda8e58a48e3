package service

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Signups          prometheus.Counter
	Logins           *prometheus.CounterVec
	OTPIssued        prometheus.Counter
	OTPVerifications *prometheus.CounterVec
	PasswordResets   prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Signups: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "identity_signups_total",
				Help: "Total accounts created.",
			},
		),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_logins_total",
				Help: "Login attempts by result.",
			},
			[]string{"result"},
		),
		OTPIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "identity_otp_issued_total",
				Help: "Password reset codes issued.",
			},
		),
		OTPVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_otp_verifications_total",
				Help: "Password reset code checks by result.",
			},
			[]string{"result"},
		),
		PasswordResets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "identity_password_resets_total",
				Help: "Completed password resets.",
			},
		),
	}

	registry.MustRegister(m.Signups, m.Logins, m.OTPIssued, m.OTPVerifications, m.PasswordResets)
	return m
}

func (m *Metrics) signup() {
	if m != nil {
		m.Signups.Inc()
	}
}

func (m *Metrics) login(result string) {
	if m != nil {
		m.Logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) otpIssued() {
	if m != nil {
		m.OTPIssued.Inc()
	}
}

func (m *Metrics) otpVerification(result string) {
	if m != nil {
		m.OTPVerifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) passwordReset() {
	if m != nil {
		m.PasswordResets.Inc()
	}
}

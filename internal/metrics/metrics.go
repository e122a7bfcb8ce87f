package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the credential lifecycle counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	LoginsTotal        *prometheus.CounterVec
	ResetRequestsTotal *prometheus.CounterVec
	ResetRedeemTotal   *prometheus.CounterVec
	TokensPurgedTotal  prometheus.Counter
}

// New creates and registers all counters on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cms_logins_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		ResetRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cms_password_reset_requests_total",
				Help: "Password reset requests by result",
			},
			[]string{"result"},
		),
		ResetRedeemTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cms_password_reset_redemptions_total",
				Help: "Password reset token redemptions by result",
			},
			[]string{"result"},
		),
		TokensPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cms_password_reset_tokens_purged_total",
				Help: "Expired password reset tokens removed by the sweeper",
			},
		),
	}
	reg.MustRegister(m.LoginsTotal, m.ResetRequestsTotal, m.ResetRedeemTotal, m.TokensPurgedTotal)
	return m
}

func (m *Metrics) Login(result string) {
	if m != nil {
		m.LoginsTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ResetRequest(result string) {
	if m != nil {
		m.ResetRequestsTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ResetRedeem(result string) {
	if m != nil {
		m.ResetRedeemTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) TokensPurged(n int64) {
	if m != nil && n > 0 {
		m.TokensPurgedTotal.Add(float64(n))
	}
}

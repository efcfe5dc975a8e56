// Package metrics exposes Prometheus collectors for hive activity:
// broker throughput, task outcomes, and token spend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Token kind labels for the tokens_used_total counter.
const (
	KindPrompt     = "prompt"
	KindCompletion = "completion"
)

// Metrics holds the hive collectors. A nil *Metrics is safe to call,
// so wiring stays optional.
type Metrics struct {
	messagesPublished prometheus.Counter
	messagesDelivered prometheus.Counter
	tasksCompleted    prometheus.Counter
	tasksFailed       prometheus.Counter
	tasksRunning      prometheus.Gauge
	agentsRegistered  prometheus.Gauge
	tokensUsed        *prometheus.CounterVec
}

// MustNewMetrics builds and registers the collectors. A nil registerer
// falls back to the Prometheus default. Registration conflicts reuse
// the existing collector, so repeated construction against one
// registry is safe; any other registration error panics, mirroring
// promauto.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		messagesPublished: registerCounter(reg, prometheus.CounterOpts{
			Namespace: "hive",
			Name:      "messages_published_total",
			Help:      "Messages published to the broker.",
		}),
		messagesDelivered: registerCounter(reg, prometheus.CounterOpts{
			Namespace: "hive",
			Name:      "messages_delivered_total",
			Help:      "Message deliveries to subscriber inboxes.",
		}),
		tasksCompleted: registerCounter(reg, prometheus.CounterOpts{
			Namespace: "hive",
			Name:      "tasks_completed_total",
			Help:      "Tasks that finished successfully.",
		}),
		tasksFailed: registerCounter(reg, prometheus.CounterOpts{
			Namespace: "hive",
			Name:      "tasks_failed_total",
			Help:      "Tasks that terminally failed.",
		}),
		tasksRunning: registerGauge(reg, prometheus.GaugeOpts{
			Namespace: "hive",
			Name:      "tasks_running",
			Help:      "Tasks currently assigned to agents.",
		}),
		agentsRegistered: registerGauge(reg, prometheus.GaugeOpts{
			Namespace: "hive",
			Name:      "agents_registered",
			Help:      "Agents currently in the registry.",
		}),
	}
	m.tokensUsed = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: "hive",
		Name:      "tokens_used_total",
		Help:      "Tokens consumed, labelled by kind.",
	}, []string{"kind"})

	return m
}

func registerCounter(reg prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector.(prometheus.Counter)
		}
		panic(err)
	}
	return c
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector.(*prometheus.CounterVec)
		}
		panic(err)
	}
	return c
}

func registerGauge(reg prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	if err := reg.Register(g); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector.(prometheus.Gauge)
		}
		panic(err)
	}
	return g
}

// MessagePublished counts one broker publish.
func (m *Metrics) MessagePublished() {
	if m == nil {
		return
	}
	m.messagesPublished.Inc()
}

// MessagesDelivered counts deliveries fanned out for one publish.
func (m *Metrics) MessagesDelivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesDelivered.Add(float64(n))
}

// TaskStarted marks a task as running.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksRunning.Inc()
}

// TaskCompleted marks a running task as successfully finished.
func (m *Metrics) TaskCompleted() {
	if m == nil {
		return
	}
	m.tasksRunning.Dec()
	m.tasksCompleted.Inc()
}

// TaskFailed marks a running task as terminally failed.
func (m *Metrics) TaskFailed() {
	if m == nil {
		return
	}
	m.tasksRunning.Dec()
	m.tasksFailed.Inc()
}

// SetAgentsRegistered records the current registry size.
func (m *Metrics) SetAgentsRegistered(n int) {
	if m == nil {
		return
	}
	m.agentsRegistered.Set(float64(n))
}

// AddTokens records token spend by kind.
func (m *Metrics) AddTokens(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensUsed.WithLabelValues(kind).Add(float64(n))
}

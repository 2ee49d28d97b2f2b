package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/talgya/collective/internal/engine"
)

const namespace = "collective"

// Metrics exports scheduler state to Prometheus. Gauges are read from the
// collective on scrape; counters are fed by the collective's hooks.
type Metrics struct {
	col *engine.Collective
	eng *engine.Engine

	Registry  *prometheus.Registry
	events    *prometheus.CounterVec
	decisions *prometheus.CounterVec

	tick       *prometheus.Desc
	speed      *prometheus.Desc
	alive      *prometheus.Desc
	deaths     *prometheus.Desc
	tasks      *prometheus.Desc
	locks      *prometheus.Desc
	pending    *prometheus.Desc
	suppressed *prometheus.Desc
	done       *prometheus.Desc
	failed     *prometheus.Desc
	resources  *prometheus.Desc
	warnings   *prometheus.Desc
}

// NewMetrics registers the collective's metrics on a fresh registry.
func NewMetrics(col *engine.Collective, eng *engine.Engine) (*Metrics, error) {
	m := &Metrics{
		col:      col,
		eng:      eng,
		Registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events emitted by the collective.",
		}, []string{"category"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Non-idle agent decisions by action.",
		}, []string{"action"}),
		tick:       prometheus.NewDesc(namespace+"_tick", "Last processed tick.", nil, nil),
		speed:      prometheus.NewDesc(namespace+"_speed", "Engine speed multiplier; 0 is paused.", nil, nil),
		alive:      prometheus.NewDesc(namespace+"_agents_alive", "Living agents by category.", []string{"category"}, nil),
		deaths:     prometheus.NewDesc(namespace+"_agents_dead", "Agents that have died.", nil, nil),
		tasks:      prometheus.NewDesc(namespace+"_tasks", "Live tasks in the pool.", nil, nil),
		locks:      prometheus.NewDesc(namespace+"_task_locks", "Per-agent task infeasibility locks.", nil, nil),
		pending:    prometheus.NewDesc(namespace+"_pending_orders", "Constructions and traps not yet finished.", nil, nil),
		suppressed: prometheus.NewDesc(namespace+"_suppressed_locations", "Locations inside the threat zone.", nil, nil),
		done:       prometheus.NewDesc(namespace+"_tasks_completed", "Tasks completed since start.", nil, nil),
		failed:     prometheus.NewDesc(namespace+"_tasks_failed", "Tasks cancelled or abandoned since start.", nil, nil),
		resources:  prometheus.NewDesc(namespace+"_resources", "Available resources by kind.", []string{"kind"}, nil),
		warnings:   prometheus.NewDesc(namespace+"_warnings", "Raised warnings.", []string{"warning"}, nil),
	}
	for _, c := range []prometheus.Collector{m.events, m.decisions, m} {
		if err := m.Registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveEvent counts an emitted event.
func (m *Metrics) ObserveEvent(e engine.Event) {
	m.events.WithLabelValues(e.Category).Inc()
}

// ObserveDecision counts an agent decision.
func (m *Metrics) ObserveDecision(d engine.Decision) {
	m.decisions.WithLabelValues(d.Action.Kind.String()).Inc()
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{m.tick, m.speed, m.alive, m.deaths, m.tasks, m.locks, m.pending, m.suppressed, m.done, m.failed, m.resources, m.warnings} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	st := m.col.Stats()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v)
	}

	gauge(m.tick, float64(m.col.LastTick()))
	if m.eng != nil {
		gauge(m.speed, m.eng.Speed())
	}
	for cat, n := range st.ByCategory {
		gauge(m.alive, float64(n), cat)
	}
	gauge(m.deaths, float64(st.Deaths))
	gauge(m.tasks, float64(st.Tasks))
	gauge(m.locks, float64(st.Locks))
	gauge(m.pending, float64(st.Pending))
	gauge(m.suppressed, float64(st.Suppressed))
	counter(m.done, float64(st.TasksDone))
	counter(m.failed, float64(st.TasksFailed))

	for _, r := range m.col.Ledger() {
		gauge(m.resources, float64(r.Total), r.Kind)
	}
	w := m.col.Warnings()
	for _, name := range w.Strings() {
		gauge(m.warnings, 1, name)
	}
}

// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OnlinePlayers    prometheus.Gauge
	ActiveRooms      prometheus.Gauge
	ActiveInstances  prometheus.Gauge
	DamageEvents     prometheus.Counter
	BossesDefeated   prometheus.Counter
	ExpiredInstances prometheus.Counter
	DamageLatency    prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of online players",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of live battle rooms",
		}),
		ActiveInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_boss_instances",
			Help:      "Number of non-completed boss instances",
		}),
		DamageEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "damage_events_total",
			Help:      "Total number of processed damage events",
		}),
		BossesDefeated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bosses_defeated_total",
			Help:      "Total number of defeated boss instances",
		}),
		ExpiredInstances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_instances_total",
			Help:      "Total number of boss instances reclaimed by the expiry sweep",
		}),
		DamageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "damage_latency_seconds",
			Help:      "Damage event processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
	}

	prometheus.MustRegister(
		m.OnlinePlayers,
		m.ActiveRooms,
		m.ActiveInstances,
		m.DamageEvents,
		m.BossesDefeated,
		m.ExpiredInstances,
		m.DamageLatency,
	)

	return m
}

type Monitor struct {
	metrics      *Metrics
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

func NewMonitor(namespace string) *Monitor {
	return &Monitor{
		metrics:   NewMetrics(namespace),
		startTime: time.Now(),
	}
}

func (m *Monitor) StartServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())

	// 添加expvar指标
	expvar.Publish("uptime", expvar.Func(func() interface{} {
		return time.Since(m.startTime).Seconds()
	}))

	expvar.Publish("damage_events", expvar.Func(func() interface{} {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		return m.requestCount
	}))

	go http.ListenAndServe(addr, nil)
}

func (m *Monitor) IncOnlinePlayers() {
	m.metrics.OnlinePlayers.Inc()
}

func (m *Monitor) DecOnlinePlayers() {
	m.metrics.OnlinePlayers.Dec()
}

func (m *Monitor) SetActiveRooms(count int) {
	m.metrics.ActiveRooms.Set(float64(count))
}

func (m *Monitor) SetActiveInstances(count int) {
	m.metrics.ActiveInstances.Set(float64(count))
}

func (m *Monitor) IncDamageEvents() {
	m.metrics.DamageEvents.Inc()
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}

func (m *Monitor) IncBossesDefeated() {
	m.metrics.BossesDefeated.Inc()
}

func (m *Monitor) IncExpiredInstances(count int) {
	m.metrics.ExpiredInstances.Add(float64(count))
}

func (m *Monitor) ObserveDamageLatency(duration time.Duration) {
	m.metrics.DamageLatency.Observe(duration.Seconds())
}

package room

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics Prometheus-метрики комнат. Все методы безопасны для nil.
type Metrics struct {
	reservations *prometheus.CounterVec
	clears       prometheus.Counter
	queueWait    prometheus.Histogram
	rooms        prometheus.Gauge
	entities     prometheus.Gauge
	dropped      prometheus.Counter
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil: не регистрировать)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "room",
			Name:      "tile_reservations_total",
			Help:      "Запросы резервирования клеток по результату.",
		}, []string{"result"}),
		clears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "room",
			Name:      "tile_clears_total",
			Help:      "Освобождения клеток.",
		}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "room",
			Name:      "coordinator_queue_wait_seconds",
			Help:      "Время ожидания запроса в очереди координатора.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 2},
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "room",
			Name:      "rooms_loaded",
			Help:      "Загруженные комнаты.",
		}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "room",
			Name:      "entities",
			Help:      "Сущности во всех комнатах.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "room",
			Name:      "broadcast_dropped_total",
			Help:      "События, не доставленные медленным подписчикам.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.reservations, m.clears, m.queueWait, m.rooms, m.entities, m.dropped)
	}
	return m
}

func (m *Metrics) reservation(granted bool) {
	if m == nil {
		return
	}
	if granted {
		m.reservations.WithLabelValues("granted").Inc()
	} else {
		m.reservations.WithLabelValues("denied").Inc()
	}
}

func (m *Metrics) cleared() {
	if m != nil {
		m.clears.Inc()
	}
}

func (m *Metrics) waited(d time.Duration) {
	if m != nil {
		m.queueWait.Observe(d.Seconds())
	}
}

func (m *Metrics) roomsDelta(n int) {
	if m != nil {
		m.rooms.Add(float64(n))
	}
}

func (m *Metrics) entitiesDelta(n int) {
	if m != nil {
		m.entities.Add(float64(n))
	}
}

func (m *Metrics) droppedEvent() {
	if m != nil {
		m.dropped.Inc()
	}
}

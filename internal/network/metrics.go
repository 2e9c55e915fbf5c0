package network

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/room-server/internal/protocol"
)

// Metrics метрики сетевой подсистемы. Методы безопасны для nil.
type Metrics struct {
	connections  *prometheus.GaugeVec
	accepted     *prometheus.CounterVec
	framesIn     *prometheus.CounterVec
	framesOut    *prometheus.CounterVec
	frameErrors  *prometheus.CounterVec
	sendDropped  prometheus.Counter
	handleTiming *prometheus.HistogramVec
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil: не регистрировать)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "room",
			Subsystem: "network",
			Name:      "connections",
			Help:      "Открытые соединения по транспорту.",
		}, []string{"transport"}),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "room",
			Subsystem: "network",
			Name:      "accepted_total",
			Help:      "Принятые соединения по транспорту.",
		}, []string{"transport"}),
		framesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "room",
			Subsystem: "network",
			Name:      "frames_in_total",
			Help:      "Входящие кадры по коду операции.",
		}, []string{"opcode"}),
		framesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "room",
			Subsystem: "network",
			Name:      "frames_out_total",
			Help:      "Исходящие кадры по коду операции.",
		}, []string{"opcode"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "room",
			Subsystem: "network",
			Name:      "frame_errors_total",
			Help:      "Отклонённые кадры по причине.",
		}, []string{"reason"}),
		sendDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "room",
			Subsystem: "network",
			Name:      "send_dropped_total",
			Help:      "Кадры, не поместившиеся в очередь отправки.",
		}),
		handleTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "room",
			Subsystem: "network",
			Name:      "handle_seconds",
			Help:      "Время обработки входящего кадра.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"opcode"}),
	}

	if reg != nil {
		reg.MustRegister(m.connections, m.accepted, m.framesIn, m.framesOut, m.frameErrors, m.sendDropped, m.handleTiming)
	}
	return m
}

func opLabel(op protocol.OpCode) string {
	if !op.Known() {
		return "unknown"
	}
	return op.String()
}

func (m *Metrics) connOpened(transport string) {
	if m == nil {
		return
	}
	m.accepted.WithLabelValues(transport).Inc()
	m.connections.WithLabelValues(transport).Inc()
}

func (m *Metrics) connClosed(transport string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(transport).Dec()
}

func (m *Metrics) frameIn(op protocol.OpCode, took time.Duration) {
	if m == nil {
		return
	}
	label := opLabel(op)
	m.framesIn.WithLabelValues(label).Inc()
	m.handleTiming.WithLabelValues(label).Observe(took.Seconds())
}

func (m *Metrics) frameOut(op protocol.OpCode) {
	if m == nil {
		return
	}
	m.framesOut.WithLabelValues(opLabel(op)).Inc()
}

func (m *Metrics) frameError(reason string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.sendDropped.Inc()
}

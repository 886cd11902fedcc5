package pool

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the pool's optional observability surface: a bundle of
// prometheus collectors tracking allocation/free counts, the allocator
// error taxonomy (CapacityExhausted, ForeignPointer, DoubleFree), and each
// small class's high-water byte footprint. It is purely additive over the
// allocator's own locking discipline: every metric update is a lock-free
// atomic increment internal to the prometheus client, never a second
// serialization point alongside a slab's SpinLock or the pool's routing
// lock.
type Metrics struct {
	allocations       *prometheus.CounterVec
	frees             *prometheus.CounterVec
	capacityExhausted *prometheus.CounterVec
	foreignPointer    *prometheus.CounterVec
	doubleFree        *prometheus.CounterVec
	highWaterBytes    *prometheus.GaugeVec
	largeAllocations  prometheus.Counter
	largeFrees        prometheus.Counter
}

// NewMetrics builds a Metrics bundle and registers it with reg. Pass a
// fresh *prometheus.Registry (or prometheus.NewRegistry()) per Pool
// instance to avoid collector name collisions across multiple pools in the
// same process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spalloc",
			Name:      "allocations_total",
			Help:      "Total number of successful small-class allocations, by size class.",
		}, []string{"class"}),
		frees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spalloc",
			Name:      "frees_total",
			Help:      "Total number of successful small-class frees, by size class.",
		}, []string{"class"}),
		capacityExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spalloc",
			Name:      "capacity_exhausted_total",
			Help:      "Total number of CapacityExhausted errors, by size class.",
		}, []string{"class"}),
		foreignPointer: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spalloc",
			Name:      "foreign_pointer_total",
			Help:      "Total number of ForeignPointer errors, by size class.",
		}, []string{"class"}),
		doubleFree: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spalloc",
			Name:      "double_free_total",
			Help:      "Total number of DoubleFree errors, by size class.",
		}, []string{"class"}),
		highWaterBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "spalloc",
			Name:      "high_water_bytes",
			Help:      "Monotone high-water byte footprint, by size class.",
		}, []string{"class"}),
		largeAllocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spalloc",
			Name:      "large_allocations_total",
			Help:      "Total number of allocations routed to the large delegate.",
		}),
		largeFrees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spalloc",
			Name:      "large_frees_total",
			Help:      "Total number of frees routed to the large delegate.",
		}),
	}

	reg.MustRegister(
		m.allocations, m.frees, m.capacityExhausted, m.foreignPointer,
		m.doubleFree, m.highWaterBytes, m.largeAllocations, m.largeFrees,
	)
	return m
}

func classLabel(elemSize uintptr) string {
	return strconv.FormatUint(uint64(elemSize), 10)
}

func (m *Metrics) observeAllocate(elemSize uintptr) {
	m.allocations.WithLabelValues(classLabel(elemSize)).Inc()
}

func (m *Metrics) observeFree(elemSize uintptr) {
	m.frees.WithLabelValues(classLabel(elemSize)).Inc()
}

func (m *Metrics) observeCapacityExhausted(elemSize uintptr) {
	m.capacityExhausted.WithLabelValues(classLabel(elemSize)).Inc()
}

func (m *Metrics) observeForeignPointer(elemSize uintptr) {
	m.foreignPointer.WithLabelValues(classLabel(elemSize)).Inc()
}

func (m *Metrics) observeDoubleFree(elemSize uintptr) {
	m.doubleFree.WithLabelValues(classLabel(elemSize)).Inc()
}

func (m *Metrics) observeHighWater(elemSize uintptr, bytes uintptr) {
	m.highWaterBytes.WithLabelValues(classLabel(elemSize)).Set(float64(bytes))
}

func (m *Metrics) observeLargeAllocate(uintptr) {
	m.largeAllocations.Inc()
}

func (m *Metrics) observeLargeFree() {
	m.largeFrees.Inc()
}

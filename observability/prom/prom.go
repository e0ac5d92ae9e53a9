package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/busybeaver/lp-libs/umsgen/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// WriteTextfile writes every metric of reg to filename in the text
// exposition format, for node_exporter's textfile collector. The file is
// replaced atomically.
func WriteTextfile(reg *prometheus.Registry, filename string) error {
	return prometheus.WriteToTextfile(filename, reg)
}

// GenObserver exports generator metrics to Prometheus.
type GenObserver struct {
	modulesTotal   *prometheus.CounterVec
	moduleDuration prometheus.Histogram
	variants       *prometheus.GaugeVec
	methods        *prometheus.GaugeVec
	mappingGaps    *prometheus.GaugeVec
	filesTotal     *prometheus.CounterVec
	conflicts      prometheus.Gauge
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Gauge
}

// NewGenObserver registers generator metrics on the registry.
func NewGenObserver(reg *prometheus.Registry) *GenObserver {
	o := &GenObserver{
		modulesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umsgen_modules_total",
			Help: "Schema pipelines by result and failing stage.",
		}, []string{"result", "stage"}),
		moduleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "umsgen_module_duration_seconds",
			Help:    "Wall time of one schema pipeline.",
			Buckets: prometheus.DefBuckets,
		}),
		variants: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "umsgen_variants",
			Help: "Message variants discovered per module.",
		}, []string{"module"}),
		methods: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "umsgen_binding_methods",
			Help: "Binding methods generated per module.",
		}, []string{"module"}),
		mappingGaps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "umsgen_mapping_gaps",
			Help: "Request variants without a mapped response per module.",
		}, []string{"module"}),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umsgen_files_total",
			Help: "Generated files by outcome.",
		}, []string{"result"}),
		conflicts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "umsgen_aggregate_conflicts",
			Help: "Exported names shadowed in the aggregator.",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umsgen_runs_total",
			Help: "Generation runs by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "umsgen_run_duration_seconds",
			Help: "Wall time of the last generation run.",
		}),
	}
	reg.MustRegister(
		o.modulesTotal,
		o.moduleDuration,
		o.variants,
		o.methods,
		o.mappingGaps,
		o.filesTotal,
		o.conflicts,
		o.runsTotal,
		o.runDuration,
	)
	return o
}

func (o *GenObserver) Module(_ string, result observability.ModuleResult, stage string, d time.Duration) {
	o.modulesTotal.WithLabelValues(string(result), stage).Inc()
	o.moduleDuration.Observe(d.Seconds())
}

func (o *GenObserver) Variants(module string, n int) {
	o.variants.WithLabelValues(module).Set(float64(n))
}

func (o *GenObserver) Methods(module string, n int) {
	o.methods.WithLabelValues(module).Set(float64(n))
}

func (o *GenObserver) MappingGaps(module string, n int) {
	o.mappingGaps.WithLabelValues(module).Set(float64(n))
}

func (o *GenObserver) File(result observability.FileResult) {
	o.filesTotal.WithLabelValues(string(result)).Inc()
}

func (o *GenObserver) Conflicts(n int) {
	o.conflicts.Set(float64(n))
}

func (o *GenObserver) Run(result observability.RunResult, d time.Duration) {
	o.runsTotal.WithLabelValues(string(result)).Inc()
	o.runDuration.Set(d.Seconds())
}

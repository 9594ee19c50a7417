// Package metrics wires a tasklet Manager's counters (§6, install_counters)
// into Prometheus, generalized from the teacher's
// observability/prometheus.MetricsExporter.
package metrics

import (
	"errors"
	"fmt"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/tasklet-rt/tasklet/core"
)

// Exporter registers and refreshes the Manager's counters against a
// Prometheus registerer: per-state tasklet gauges, per-worker executed
// counters, per-worker maintenance-ratio gauges, and the three call-volume
// counters for register_thread/register_work/set_state (supplemented from
// the profiled call-volume counters the original runtime installs via
// block_profiler<register_thread_tag> and friends).
type Exporter struct {
	mgr *core.Manager

	stateCount     *prom.GaugeVec
	workerExecuted *prom.GaugeVec
	maintRatio     *prom.GaugeVec

	registerThreadTotal prom.Counter
	registerWorkTotal   prom.Counter
	setStateTotal       prom.Counter
}

// NewExporter registers collectors under namespace (default "tasklet")
// against reg (default prom.DefaultRegisterer) and returns an Exporter
// that must be driven by Refresh on a timer or at idle points.
func NewExporter(namespace string, reg prom.Registerer, mgr *core.Manager) (*Exporter, error) {
	if namespace == "" {
		namespace = "tasklet"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	stateCountVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "state_count",
		Help:      "Current number of tasklets in each lifecycle state.",
	}, []string{"state"})
	workerExecutedVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_executed_total",
		Help:      "Cumulative invocations completed by each worker.",
	}, []string{"worker"})
	maintRatioVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_maintenance_ratio",
		Help:      "Fraction of elapsed time each worker spent idle rather than executing.",
	}, []string{"worker"})
	registerThreadTotal := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "register_thread_total",
		Help:      "Total number of register_thread calls.",
	})
	registerWorkTotal := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "register_work_total",
		Help:      "Total number of register_work calls.",
	})
	setStateTotal := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "set_state_total",
		Help:      "Total number of external set_state calls.",
	})

	var err error
	if stateCountVec, err = registerCollector(reg, stateCountVec); err != nil {
		return nil, err
	}
	if workerExecutedVec, err = registerCollector(reg, workerExecutedVec); err != nil {
		return nil, err
	}
	if maintRatioVec, err = registerCollector(reg, maintRatioVec); err != nil {
		return nil, err
	}
	if registerThreadTotal, err = registerCollector(reg, registerThreadTotal); err != nil {
		return nil, err
	}
	if registerWorkTotal, err = registerCollector(reg, registerWorkTotal); err != nil {
		return nil, err
	}
	if setStateTotal, err = registerCollector(reg, setStateTotal); err != nil {
		return nil, err
	}

	return &Exporter{
		mgr:                 mgr,
		stateCount:          stateCountVec,
		workerExecuted:      workerExecutedVec,
		maintRatio:          maintRatioVec,
		registerThreadTotal: registerThreadTotal,
		registerWorkTotal:   registerWorkTotal,
		setStateTotal:       setStateTotal,
	}, nil
}

var statesToExport = []core.State{
	core.StatePending,
	core.StateActive,
	core.StateRunning,
	core.StateSuspended,
	core.StateDepleted,
	core.StateTerminated,
	core.StateStaged,
}

// Refresh samples the manager's current counters into the gauges. Call it
// periodically (for example from a ticker) or at worker idle points.
func (e *Exporter) Refresh() {
	for _, s := range statesToExport {
		e.stateCount.WithLabelValues(s.String()).Set(float64(e.mgr.GetThreadCount(s)))
	}
	numWorkers := e.mgr.GetNumOSThreads()
	for w := 0; w < numWorkers; w++ {
		label := fmt.Sprintf("%d", w)
		e.workerExecuted.WithLabelValues(label).Set(float64(e.mgr.GetExecutedThreads(w)))
		e.maintRatio.WithLabelValues(label).Set(e.mgr.AvgMaintRatio(w))
	}
}

// CountRegisterThread increments the register_thread call-volume counter.
func (e *Exporter) CountRegisterThread() { e.registerThreadTotal.Inc() }

// CountRegisterWork increments the register_work call-volume counter.
func (e *Exporter) CountRegisterWork() { e.registerWorkTotal.Inc() }

// CountSetState increments the external set_state call-volume counter.
func (e *Exporter) CountSetState() { e.setStateTotal.Inc() }

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}

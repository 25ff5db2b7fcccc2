package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
)

const (
	SupervisorSubSystem      = "supervisor"
	SpawnTotalKey            = "spawn_total"
	RestartTotalKey          = "restart_total"
	EscapedDescendantKey     = "escaped_descendant_total"
	ChildPidKey              = "child_pid"
	ChildStartTimeKey        = "child_start_time_seconds"
	ChildDescendantsKey      = "child_descendants"
	metricFileName           = "live-die-repeat.prom"
	defaultScrapIntervalSecs = 60
)

// Restart sources, used as the restart_total label.
const (
	RestartSourceSignal = "signal"
	RestartSourceWatch  = "watch"
)

// Metric writes supervisor metrics to a Prometheus text file on a fixed
// interval. A nil *Metric is valid and records nothing.
type Metric struct {
	OutPath       string `yaml:"outPath,omitempty" json:"outPath,omitempty"`
	ScrapInterval int    `yaml:"scrapInterval,omitempty" json:"scrapInterval,omitempty"`

	spawnTotal        prometheus.Counter
	restartTotal      *prometheus.CounterVec
	escapedTotal      prometheus.Counter
	childPid          prometheus.Gauge
	childStartTime    prometheus.Gauge
	childDescendants  prometheus.Gauge
	sampleDescendants func() int

	done     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
	ticker   *time.Ticker
	register *prometheus.Registry

	logger *zap.SugaredLogger
}

// Provision creates the collectors and the private registry.
func (m *Metric) Provision(logger *zap.Logger) error {
	if m.OutPath == "" {
		return fmt.Errorf("metric output path is empty")
	}

	m.done = make(chan struct{})
	m.logger = logger.Sugar().Named("metric")
	m.register = prometheus.NewRegistry()

	m.spawnTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: SupervisorSubSystem,
		Name:      SpawnTotalKey,
		Help:      "The number of child processes spawned",
	})
	m.restartTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: SupervisorSubSystem,
			Name:      RestartTotalKey,
			Help:      "The number of restarts requested, by source",
		},
		[]string{
			"source",
		},
	)
	m.escapedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: SupervisorSubSystem,
		Name:      EscapedDescendantKey,
		Help:      "Descendants still alive after their process group was killed",
	})
	m.childPid = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: SupervisorSubSystem,
		Name:      ChildPidKey,
		Help:      "Pid of the current child, 0 when none is running",
	})
	m.childStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: SupervisorSubSystem,
		Name:      ChildStartTimeKey,
		Help:      "Unix time the current child was spawned",
	})
	m.childDescendants = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: SupervisorSubSystem,
		Name:      ChildDescendantsKey,
		Help:      "Number of live descendants of the current child",
	})

	m.register.MustRegister(
		m.spawnTotal,
		m.restartTotal,
		m.escapedTotal,
		m.childPid,
		m.childStartTime,
		m.childDescendants,
	)

	if m.ScrapInterval == 0 {
		m.ScrapInterval = defaultScrapIntervalSecs
	}
	return nil
}

func (m *Metric) Start() error {
	if m == nil {
		return nil
	}

	fd, err := os.OpenFile(filepath.Join(m.OutPath, metricFileName), os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open metric file: %w", err)
	}

	m.ticker = time.NewTicker(time.Second * time.Duration(m.ScrapInterval))
	m.exited = make(chan struct{})
	go m.runRecordMetrics(fd)
	return nil
}

// Stop writes the file a last time and waits for the recorder to exit. It is
// safe to call more than once and from several goroutines.
func (m *Metric) Stop() error {
	if m == nil || m.done == nil {
		return nil
	}

	m.stopOnce.Do(func() {
		close(m.done)
	})
	if m.exited != nil {
		<-m.exited
	}
	return nil
}

// Gather returns the current metric families.
func (m *Metric) Gather() ([]*dto.MetricFamily, error) {
	m.sample()
	return m.register.Gather()
}

func (m *Metric) spawned(pid int, at time.Time) {
	if m == nil {
		return
	}
	m.spawnTotal.Inc()
	m.childPid.Set(float64(pid))
	m.childStartTime.Set(float64(at.Unix()))
}

func (m *Metric) reaped() {
	if m == nil {
		return
	}
	m.childPid.Set(0)
	m.childDescendants.Set(0)
}

func (m *Metric) restarted(source string) {
	if m == nil {
		return
	}
	m.restartTotal.WithLabelValues(source).Inc()
}

func (m *Metric) escaped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.escapedTotal.Add(float64(n))
}

func (m *Metric) sample() {
	if m.sampleDescendants != nil {
		m.childDescendants.Set(float64(m.sampleDescendants()))
	}
}

// writeTo replaces the file content with the current registry. sample
// refreshes the descendant gauge first, which scans the process table.
func (m *Metric) writeTo(fd *os.File, sample bool) error {
	if err := fd.Truncate(0); err != nil {
		return err
	}
	if _, err := fd.Seek(0, 0); err != nil {
		return err
	}

	if sample {
		m.sample()
	}
	mfs, err := m.register.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(fd, mf); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metric) runRecordMetrics(fd *os.File) {
	defer close(m.exited)
	defer fd.Close()
	defer m.ticker.Stop()

	if err := m.writeTo(fd, true); err != nil {
		m.logger.Errorf("write metric: %v", err)
	}

	for {
		select {
		case <-m.done:
			// the supervisor is going away, skip the process table scan
			if err := m.writeTo(fd, false); err != nil {
				m.logger.Errorf("write metric: %v", err)
			}
			return
		case <-m.ticker.C:
			if err := m.writeTo(fd, true); err != nil {
				m.logger.Errorf("write metric: %v", err)
				continue
			}
			m.logger.Debug("metric info has been updated")
		}
	}
}

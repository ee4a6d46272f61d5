package trainer

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/chewxy/math32"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
)

var ErrUnknownArtifactType = errors.New("Loggerエラー: 不明な成果物の種類です")

type ArtifactType string

const (
	ArtifactTxt  ArtifactType = "txt"
	ArtifactJSON ArtifactType = "json"
	ArtifactGob  ArtifactType = "gob"
	ArtifactPNG  ArtifactType = "png"
)

type Logger interface {
	// LogMetrics records metrics under "prefix/name".
	LogMetrics(metrics map[string]float32, prefix string) error
	LogHyperparameters(params map[string]any) error
	LogToFile(content any, name string, typ ArtifactType) error
	Close() error
}

func prefixed(metrics map[string]float32, prefix string) map[string]float32 {
	if prefix == "" {
		return metrics
	}
	out := make(map[string]float32, len(metrics))
	for k, v := range metrics {
		out[prefix+"/"+k] = v
	}
	return out
}

// FileLogger appends metrics as JSON lines to Dir/metrics.jsonl and writes artifacts next to it.
type FileLogger struct {
	Dir    string
	Logger *slog.Logger

	metrics *os.File
	enc     *json.Encoder
	step    int
}

func NewFileLogger(dir string, logger *slog.Logger) (*FileLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(dir, "metrics.jsonl"))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileLogger{Dir: dir, Logger: logger, metrics: f, enc: json.NewEncoder(f)}, nil
}

func (l *FileLogger) LogMetrics(metrics map[string]float32, prefix string) error {
	record := map[string]any{"step": l.step}
	attrs := make([]any, 0, 2*len(metrics)+2)
	attrs = append(attrs, "step", l.step)
	named := prefixed(metrics, prefix)
	for _, k := range slices.Sorted(maps.Keys(named)) {
		v := named[k]
		// JSON has no Inf/NaN
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			record[k] = fmt.Sprint(v)
		} else {
			record[k] = v
		}
		attrs = append(attrs, k, v)
	}
	l.step++
	l.Logger.Debug("metrics", attrs...)
	return l.enc.Encode(record)
}

func (l *FileLogger) LogHyperparameters(params map[string]any) error {
	data, err := yaml.Marshal(params)
	if err != nil {
		return err
	}
	l.Logger.Info("hyperparameters", "path", filepath.Join(l.Dir, "hyperparameters.yaml"))
	return os.WriteFile(filepath.Join(l.Dir, "hyperparameters.yaml"), data, 0o644)
}

func (l *FileLogger) LogToFile(content any, name string, typ ArtifactType) error {
	path := filepath.Join(l.Dir, name+"."+string(typ))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch typ {
	case ArtifactTxt, ArtifactPNG:
		switch c := content.(type) {
		case []byte:
			_, err = f.Write(c)
		default:
			_, err = fmt.Fprint(f, c)
		}
	case ArtifactJSON:
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		err = enc.Encode(content)
	case ArtifactGob:
		err = gob.NewEncoder(f).Encode(content)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownArtifactType, typ)
	}
	if err != nil {
		return fmt.Errorf("artifact %s: %w", name, err)
	}
	l.Logger.Info("artifact written", "path", path)
	return nil
}

func (l *FileLogger) Close() error {
	return l.metrics.Close()
}

// PrometheusLogger exposes the latest value of every metric as a gauge labelled by its name.
// Artifacts are only counted.
type PrometheusLogger struct {
	Metrics         *prometheus.GaugeVec
	Hyperparameters *prometheus.GaugeVec
	Artifacts       *prometheus.CounterVec

	registerer prometheus.Registerer
}

func NewPrometheusLogger(reg prometheus.Registerer, namespace string) (*PrometheusLogger, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	l := &PrometheusLogger{
		Metrics: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric",
			Help:      "Latest value of a training metric.",
		}, []string{"name"}),
		Hyperparameters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hyperparameter",
			Help:      "Numeric hyperparameters of the run.",
		}, []string{"name"}),
		Artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_total",
			Help:      "Number of artifacts produced, by type.",
		}, []string{"type"}),
		registerer: reg,
	}
	for _, c := range []prometheus.Collector{l.Metrics, l.Hyperparameters, l.Artifacts} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register: %w", err)
		}
	}
	return l, nil
}

func (l *PrometheusLogger) LogMetrics(metrics map[string]float32, prefix string) error {
	for k, v := range prefixed(metrics, prefix) {
		l.Metrics.WithLabelValues(k).Set(float64(v))
	}
	return nil
}

// LogHyperparameters keeps the numeric entries and skips the rest.
func (l *PrometheusLogger) LogHyperparameters(params map[string]any) error {
	for k, v := range params {
		switch x := v.(type) {
		case int:
			l.Hyperparameters.WithLabelValues(k).Set(float64(x))
		case uint64:
			l.Hyperparameters.WithLabelValues(k).Set(float64(x))
		case float32:
			l.Hyperparameters.WithLabelValues(k).Set(float64(x))
		case float64:
			l.Hyperparameters.WithLabelValues(k).Set(x)
		}
	}
	return nil
}

func (l *PrometheusLogger) LogToFile(_ any, _ string, typ ArtifactType) error {
	l.Artifacts.WithLabelValues(string(typ)).Inc()
	return nil
}

func (l *PrometheusLogger) Close() error {
	l.registerer.Unregister(l.Metrics)
	l.registerer.Unregister(l.Hyperparameters)
	l.registerer.Unregister(l.Artifacts)
	return nil
}

// MultiLogger fans every call out to all loggers and joins their errors.
type MultiLogger []Logger

func (ls MultiLogger) LogMetrics(metrics map[string]float32, prefix string) error {
	var errs []error
	for _, l := range ls {
		errs = append(errs, l.LogMetrics(metrics, prefix))
	}
	return errors.Join(errs...)
}

func (ls MultiLogger) LogHyperparameters(params map[string]any) error {
	var errs []error
	for _, l := range ls {
		errs = append(errs, l.LogHyperparameters(params))
	}
	return errors.Join(errs...)
}

func (ls MultiLogger) LogToFile(content any, name string, typ ArtifactType) error {
	var errs []error
	for _, l := range ls {
		errs = append(errs, l.LogToFile(content, name, typ))
	}
	return errors.Join(errs...)
}

func (ls MultiLogger) Close() error {
	var errs []error
	for _, l := range ls {
		errs = append(errs, l.Close())
	}
	return errors.Join(errs...)
}

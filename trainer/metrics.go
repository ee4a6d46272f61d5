package trainer

import (
	"errors"
	"fmt"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"maps"
	"math"
	"slices"
	"strings"
)

var (
	ErrUnknownMetric = errors.New("Metricsエラー: 最適化方向を推定できない指標です")
	ErrEmptyTarget   = errors.New("Metricsエラー: 目標分布の総和が0です")
)

type Direction string

const (
	Minimize Direction = "min"
	Maximize Direction = "max"
)

// DictMean averages every key of the first dict over all dicts. Keys missing from a dict count
// as NaN, which propagates.
func DictMean(dicts []map[string]float32) map[string]float32 {
	if len(dicts) == 0 {
		return map[string]float32{}
	}
	mean := make(map[string]float32, len(dicts[0]))
	xs := make([]float64, len(dicts))
	for _, k := range slices.Sorted(maps.Keys(dicts[0])) {
		for i, d := range dicts {
			v, ok := d[k]
			if !ok {
				xs[i] = math.NaN()
				continue
			}
			xs[i] = float64(v)
		}
		mean[k] = float32(stat.Mean(xs, nil))
	}
	return mean
}

func InferMetricDirection(name string) (Direction, error) {
	switch {
	case strings.HasPrefix(name, "loss"):
		return Minimize, nil
	case strings.Contains(name, "acc"), strings.Contains(name, "auroc"), strings.Contains(name, "mrr"):
		return Maximize, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
}

// EmpiricalL1 is sum_x |p(x) - q(x)| between the frequency of the sampled keys and the target
// weights normalised to a distribution. Samples outside target count fully towards the distance.
func EmpiricalL1(samples []string, target map[string]float64) (float64, error) {
	keys := slices.Sorted(maps.Keys(target))
	q := make([]float64, len(keys))
	for i, k := range keys {
		q[i] = target[k]
	}
	total := floats.Sum(q)
	if !(total > 0) {
		return 0, ErrEmptyTarget
	}
	floats.Scale(1/total, q)

	counts := make(map[string]float64, len(keys))
	for _, s := range samples {
		counts[s]++
	}
	n := float64(len(samples))
	p := make([]float64, len(keys))
	outside := 1.0
	for i, k := range keys {
		if n > 0 {
			p[i] = counts[k] / n
		}
		outside -= p[i]
	}
	if n == 0 {
		outside = 0
	}
	return floats.Distance(p, q, 1) + math.Max(outside, 0), nil
}

package trainer

import (
	"bytes"
	"fmt"
	"github.com/awalterschulze/gographviz"
	"github.com/sw965/gflow/trajectory"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"strconv"
)

type ArtifactOutput struct {
	Name    string
	Content any
	Type    ArtifactType
}

type Artifacts[S, A any] interface {
	ComputeArtifacts(ts *trajectory.Trajectories[S, A]) ([]ArtifactOutput, error)
}

// Observer is an artifact that accumulates state over every training batch.
type Observer[S, A any] interface {
	Observe(ts *trajectory.Trajectories[S, A]) error
}

type ArtifactsList[S, A any] []Artifacts[S, A]

func (l ArtifactsList[S, A]) ComputeArtifacts(ts *trajectory.Trajectories[S, A]) ([]ArtifactOutput, error) {
	var outs []ArtifactOutput
	for _, a := range l {
		o, err := a.ComputeArtifacts(ts)
		if err != nil {
			return nil, err
		}
		outs = append(outs, o...)
	}
	return outs, nil
}

// TopK tracks the best terminal states seen across every batch it is given, ranked by proxy
// value, and emits them as JSON.
type TopK[S, A any] struct {
	Name    string
	KeyFunc func(S) string
	Heap    *ContentHeap[string]
}

func NewTopK[S, A any](name string, k int, keyFunc func(S) string) *TopK[S, A] {
	return &TopK[S, A]{Name: name, KeyFunc: keyFunc, Heap: NewContentHeap[string](k)}
}

func (a *TopK[S, A]) Observe(ts *trajectory.Trajectories[S, A]) error {
	r := ts.RewardOutputs()
	if r == nil {
		return nil
	}
	lasts, err := ts.LastStatesFlat()
	if err != nil {
		return err
	}
	for i, s := range lasts {
		key := a.KeyFunc(s)
		a.Heap.Push(r.Proxy[i], key, key)
	}
	return nil
}

func (a *TopK[S, A]) ComputeArtifacts(ts *trajectory.Trajectories[S, A]) ([]ArtifactOutput, error) {
	if err := a.Observe(ts); err != nil {
		return nil, err
	}
	return []ArtifactOutput{{Name: a.Name, Content: a.Heap.Sorted(), Type: ArtifactJSON}}, nil
}

// TransitionGraph renders the transitions of a batch as a DOT digraph. Each edge is labelled
// with the action and the number of times it was taken.
type TransitionGraph[S, A any] struct {
	Name    string
	KeyFunc func(S) string
}

type edgeKey struct {
	src, dst, label string
}

func (a *TransitionGraph[S, A]) Graph(ts *trajectory.Trajectories[S, A]) (string, error) {
	g := gographviz.NewEscape()
	if err := g.SetName("transitions"); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}

	var order []edgeKey
	counts := map[edgeKey]int{}
	nodes := map[string]struct{}{}
	for _, t := range ts.All() {
		for k, action := range t.Actions {
			e := edgeKey{src: a.KeyFunc(t.States[k]), dst: a.KeyFunc(t.States[k+1]), label: fmt.Sprint(action)}
			if counts[e] == 0 {
				order = append(order, e)
			}
			counts[e]++
		}
		for _, s := range t.States {
			key := a.KeyFunc(s)
			if _, ok := nodes[key]; ok {
				continue
			}
			nodes[key] = struct{}{}
			if err := g.AddNode("transitions", key, nil); err != nil {
				return "", err
			}
		}
	}
	for _, e := range order {
		attrs := map[string]string{"label": e.label + " x" + strconv.Itoa(counts[e])}
		if err := g.AddEdge(e.src, e.dst, true, attrs); err != nil {
			return "", err
		}
	}
	return g.String(), nil
}

func (a *TransitionGraph[S, A]) ComputeArtifacts(ts *trajectory.Trajectories[S, A]) ([]ArtifactOutput, error) {
	dot, err := a.Graph(ts)
	if err != nil {
		return nil, err
	}
	return []ArtifactOutput{{Name: a.Name, Content: dot, Type: ArtifactTxt}}, nil
}

// PlotCurve draws ys against their index and returns the PNG bytes.
func PlotCurve(title, yLabel string, ys []float32) ([]byte, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = yLabel

	points := make(plotter.XYs, len(ys))
	for i, y := range ys {
		points[i] = plotter.XY{X: float64(i), Y: float64(y)}
	}
	line, err := plotter.NewLine(points)
	if err != nil {
		return nil, err
	}
	p.Add(line)

	w, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Distribution compares the terminal states of a batch with the reward distribution over
// Target, which maps a state key to its unnormalised reward.
type Distribution[S, A any] struct {
	Name    string
	KeyFunc func(S) string
	Target  map[string]float64
}

type DistributionReport struct {
	L1         float64 `json:"l1"`
	NumSamples int     `json:"num_samples"`
	NumTargets int     `json:"num_targets"`
}

func (a *Distribution[S, A]) Report(ts *trajectory.Trajectories[S, A]) (DistributionReport, error) {
	lasts, err := ts.LastStatesFlat()
	if err != nil {
		return DistributionReport{}, err
	}
	keys := make([]string, len(lasts))
	for i, s := range lasts {
		keys[i] = a.KeyFunc(s)
	}
	l1, err := EmpiricalL1(keys, a.Target)
	if err != nil {
		return DistributionReport{}, err
	}
	return DistributionReport{L1: l1, NumSamples: len(keys), NumTargets: len(a.Target)}, nil
}

func (a *Distribution[S, A]) ComputeArtifacts(ts *trajectory.Trajectories[S, A]) ([]ArtifactOutput, error) {
	report, err := a.Report(ts)
	if err != nil {
		return nil, err
	}
	return []ArtifactOutput{{Name: a.Name, Content: report, Type: ArtifactJSON}}, nil
}

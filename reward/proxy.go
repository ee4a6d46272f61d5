package reward

import (
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/cache"
	"github.com/sw965/gflow/trajectory"
)

// UpdateTracker remembers the last update index a proxy has applied. Proxies embed it and
// call Begin at the top of UpdateUsingTrajectories.
type UpdateTracker struct {
	last    int
	started bool
}

// Begin reports whether updateIdx is newer than every index seen so far, and records it.
func (u *UpdateTracker) Begin(updateIdx int) bool {
	if u.started && updateIdx <= u.last {
		return false
	}
	u.last = updateIdx
	u.started = true
	return true
}

func (u *UpdateTracker) LastUpdateIdx() (int, bool) {
	return u.last, u.started
}

// Static is a proxy that never learns.
type Static[S, A any] struct {
	Func         func(states []S) (*gflow.ProxyOutput, error)
	NonNegative  bool
	HigherBetter bool
}

func (p *Static[S, A]) ComputeProxyOutput(states []S) (*gflow.ProxyOutput, error) {
	return p.Func(states)
}

func (p *Static[S, A]) IsNonNegative() bool {
	return p.NonNegative
}

func (p *Static[S, A]) HigherIsBetter() bool {
	return p.HigherBetter
}

func (p *Static[S, A]) UpdateUsingTrajectories(*trajectory.Trajectories[S, A], int) (map[string]float32, error) {
	return map[string]float32{}, nil
}

type cached struct {
	value      float32
	components map[string]float32
}

// CachedProxy memoises Inner per state key. A real update of Inner clears the cache.
type CachedProxy[S, A any, K comparable] struct {
	Inner   Proxy[S, A]
	KeyFunc func(S) K
	UpdateTracker
	cache *cache.Cache[K, cached]
}

func NewCachedProxy[S, A any, K comparable](inner Proxy[S, A], keyFunc func(S) K, maxSize int) *CachedProxy[S, A, K] {
	return &CachedProxy[S, A, K]{
		Inner:   inner,
		KeyFunc: keyFunc,
		cache:   cache.New[K, cached](maxSize),
	}
}

func (p *CachedProxy[S, A, K]) ComputeProxyOutput(states []S) (*gflow.ProxyOutput, error) {
	keys := make([]K, len(states))
	var missKeys []K
	var missStates []S
	pending := map[K]struct{}{}
	for i, s := range states {
		keys[i] = p.KeyFunc(s)
		if p.cache.Contains(keys[i]) {
			continue
		}
		if _, ok := pending[keys[i]]; ok {
			continue
		}
		pending[keys[i]] = struct{}{}
		missKeys = append(missKeys, keys[i])
		missStates = append(missStates, s)
	}

	if len(missStates) > 0 {
		out, err := p.Inner.ComputeProxyOutput(missStates)
		if err != nil {
			return nil, err
		}
		if err := out.Validate(len(missStates)); err != nil {
			return nil, err
		}
		for j, k := range missKeys {
			c := cached{value: out.Value[j], components: map[string]float32{}}
			for name, vs := range out.Components {
				c.components[name] = vs[j]
			}
			p.cache.Set(k, c)
		}
	}

	y := &gflow.ProxyOutput{Value: make([]float32, len(states))}
	for i, k := range keys {
		c, ok := p.cache.Get(k)
		if !ok {
			// evicted while filling a batch larger than the cache
			out, err := p.Inner.ComputeProxyOutput([]S{states[i]})
			if err != nil {
				return nil, err
			}
			if err := out.Validate(1); err != nil {
				return nil, err
			}
			c = cached{value: out.Value[0], components: map[string]float32{}}
			for name, vs := range out.Components {
				c.components[name] = vs[0]
			}
		}
		y.Value[i] = c.value
		for name, v := range c.components {
			if y.Components == nil {
				y.Components = map[string][]float32{}
			}
			if y.Components[name] == nil {
				y.Components[name] = make([]float32, len(states))
			}
			y.Components[name][i] = v
		}
	}
	return y, nil
}

func (p *CachedProxy[S, A, K]) IsNonNegative() bool {
	return p.Inner.IsNonNegative()
}

func (p *CachedProxy[S, A, K]) HigherIsBetter() bool {
	return p.Inner.HigherIsBetter()
}

func (p *CachedProxy[S, A, K]) UpdateUsingTrajectories(ts *trajectory.Trajectories[S, A], updateIdx int) (map[string]float32, error) {
	if !p.Begin(updateIdx) {
		return map[string]float32{}, nil
	}
	metrics, err := p.Inner.UpdateUsingTrajectories(ts, updateIdx)
	if err != nil {
		return nil, err
	}
	p.cache.Clear()
	return metrics, nil
}

func (p *CachedProxy[S, A, K]) CacheLen() int {
	return p.cache.Len()
}

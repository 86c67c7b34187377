package distance

import (
	"math"

	"github.com/distrisearch/distrisearch/pkg/types"
)

// epsilon is the zero-norm / zero-mass threshold used throughout the
// sub-distances below.
const epsilon = 1e-10

// Weights are the per-component weights of the composite distance. The
// zero value is invalid; use DefaultWeights or Normalize after filling in
// custom values.
type Weights struct {
	Name    float64
	Content float64
	Topic   float64
}

// DefaultWeights returns the spec defaults: 0.4 / 0.4 / 0.2.
func DefaultWeights() Weights {
	return Weights{Name: 0.4, Content: 0.4, Topic: 0.2}
}

// Normalize rescales the weights to sum to 1. A zero-sum Weights falls
// back to DefaultWeights rather than dividing by zero.
func (w Weights) Normalize() Weights {
	total := w.Name + w.Content + w.Topic
	if total <= 0 {
		return DefaultWeights()
	}
	if math.Abs(total-1.0) < 1e-9 {
		return w
	}
	return Weights{
		Name:    w.Name / total,
		Content: w.Content / total,
		Topic:   w.Topic / total,
	}
}

// Composite computes the weighted composite distance between two documents
// per spec §4.1: d(A,B) = w_n*cos(name) + w_c*jaccard(content) + w_t*jsd(topic),
// clamped to [0,1]. It is deterministic and symmetric, and d(A,A)=0, but is
// not guaranteed to satisfy the triangle inequality.
func Composite(a, b *types.Document, w Weights) float64 {
	w = w.Normalize()

	nameDist := 1.0
	if a.HasNameVector() && b.HasNameVector() {
		nameDist = CosineDistance(a.NameVector, b.NameVector)
	}

	contentDist := 1.0
	if a.HasMinHash() && b.HasMinHash() {
		contentDist = JaccardDistance(a.MinHashSignature, b.MinHashSignature)
	}

	topicDist := JSDistance(a.TopicDistribution, b.TopicDistribution)

	d := w.Name*nameDist + w.Content*contentDist + w.Topic*topicDist
	return clamp01(d)
}

// CosineDistance computes (1 - cosine_similarity)/2 over two sparse
// term->weight maps. If either vector has norm below epsilon, distance is 0
// (per spec §4.1 — treated as "no signal" rather than maximal distance,
// since this sub-function is only reached once both vectors are known to
// exist; Composite already handles the "missing entirely" case).
func CosineDistance(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for k, va := range a {
		normA += va * va
		if vb, ok := b[k]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}
	normA = math.Sqrt(normA)
	normB = math.Sqrt(normB)

	if normA < epsilon || normB < epsilon {
		return 0
	}

	sim := dot / (normA * normB)
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return clamp01((1 - sim) / 2)
}

// JaccardDistance estimates 1 - (matching positions / length) over two
// MinHash signatures. Unequal-length signatures are truncated to the
// shorter one.
func JaccardDistance(a, b []uint64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 1
	}

	matches := 0
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			matches++
		}
	}
	return clamp01(1 - float64(matches)/float64(n))
}

// JSDistance computes the Jensen-Shannon divergence (base-2 log) between two
// topic distributions, after smoothing and renormalizing. A missing or
// near-zero-mass distribution yields maximum distance (1).
func JSDistance(p, q []float64) float64 {
	if len(p) == 0 || len(q) == 0 {
		return 1
	}

	n := len(p)
	if len(q) > n {
		n = len(q)
	}
	pp := padTo(p, n)
	qq := padTo(q, n)

	pSum := sum(pp)
	qSum := sum(qq)
	if pSum < epsilon || qSum < epsilon {
		return 1
	}

	for i := range pp {
		pp[i] = pp[i]/pSum + epsilon
		qq[i] = qq[i]/qSum + epsilon
	}
	pSum = sum(pp)
	qSum = sum(qq)
	for i := range pp {
		pp[i] /= pSum
		qq[i] /= qSum
	}

	m := make([]float64, n)
	for i := range m {
		m[i] = 0.5 * (pp[i] + qq[i])
	}

	klPM := klDivergence(pp, m)
	klQM := klDivergence(qq, m)
	jsd := 0.5*klPM + 0.5*klQM

	return clamp01(jsd)
}

func klDivergence(p, m []float64) float64 {
	var kl float64
	for i := range p {
		if p[i] <= 0 || m[i] <= 0 {
			continue
		}
		kl += p[i] * math.Log2(p[i]/m[i])
	}
	return kl
}

func padTo(v []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, v)
	return out
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

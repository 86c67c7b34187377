package distance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/distrisearch/distrisearch/pkg/types"
)

func doc(id string, name map[string]float64, minhash []uint64, topics []float64) *types.Document {
	return &types.Document{ID: id, NameVector: name, MinHashSignature: minhash, TopicDistribution: topics}
}

func TestComposite_IdentityIsZero(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		d := doc("a",
			map[string]float64{"foo": rng.Float64(), "bar": rng.Float64()},
			[]uint64{1, 2, 3, 4, 5},
			[]float64{0.2, 0.3, 0.5},
		)
		got := Composite(d, d, DefaultWeights())
		assert.InDelta(t, 0.0, got, 1e-9)
	}
}

func TestComposite_Symmetric(t *testing.T) {
	a := doc("a", map[string]float64{"x": 1, "y": 2}, []uint64{1, 2, 3}, []float64{0.1, 0.9})
	b := doc("b", map[string]float64{"x": 3, "z": 1}, []uint64{1, 9, 3}, []float64{0.5, 0.5})

	ab := Composite(a, b, DefaultWeights())
	ba := Composite(b, a, DefaultWeights())
	assert.InDelta(t, ab, ba, 1e-12)
}

func TestComposite_Bounded(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 50; i++ {
		a := randomDoc(rng)
		b := randomDoc(rng)
		d := Composite(a, b, DefaultWeights())
		assert.GreaterOrEqual(t, d, 0.0)
		assert.LessOrEqual(t, d, 1.0)
	}
}

func randomDoc(rng *rand.Rand) *types.Document {
	name := map[string]float64{}
	for i := 0; i < 5; i++ {
		name[string(rune('a'+i))] = rng.Float64()
	}
	mh := make([]uint64, 8)
	for i := range mh {
		mh[i] = rng.Uint64()
	}
	topics := make([]float64, 4)
	var total float64
	for i := range topics {
		topics[i] = rng.Float64()
		total += topics[i]
	}
	for i := range topics {
		topics[i] /= total
	}
	return doc("d", name, mh, topics)
}

func TestComposite_MissingVectorContributesMaxDistance(t *testing.T) {
	a := doc("a", map[string]float64{"x": 1}, []uint64{1, 2, 3}, []float64{0.5, 0.5})
	b := doc("b", nil, nil, nil)

	d := Composite(a, b, DefaultWeights())
	// name and content both fall back to max distance 1, topics JSD(missing) = 1.
	assert.InDelta(t, 1.0, d, 1e-9)
}

func TestWeights_Normalize(t *testing.T) {
	w := Weights{Name: 2, Content: 2, Topic: 1}.Normalize()
	assert.InDelta(t, 1.0, w.Name+w.Content+w.Topic, 1e-9)
	assert.InDelta(t, 0.4, w.Name, 1e-9)
	assert.InDelta(t, 0.2, w.Topic, 1e-9)
}

func TestWeights_NormalizeZeroSumFallsBackToDefault(t *testing.T) {
	w := Weights{}.Normalize()
	assert.Equal(t, DefaultWeights(), w)
}

func TestCosineDistance_ZeroNormIsZeroDistance(t *testing.T) {
	d := CosineDistance(map[string]float64{}, map[string]float64{"x": 1})
	assert.Equal(t, 0.0, d)
}

func TestCosineDistance_IdenticalVectorsAreZero(t *testing.T) {
	v := map[string]float64{"a": 1, "b": 2, "c": 3}
	assert.InDelta(t, 0.0, CosineDistance(v, v), 1e-9)
}

func TestJaccardDistance_TruncatesToShorter(t *testing.T) {
	a := []uint64{1, 2, 3, 4, 5}
	b := []uint64{1, 2, 3}
	// Only the first 3 entries are compared; all equal -> distance 0.
	assert.InDelta(t, 0.0, JaccardDistance(a, b), 1e-9)
}

func TestJaccardDistance_EmptyIsMaxDistance(t *testing.T) {
	assert.Equal(t, 1.0, JaccardDistance(nil, nil))
}

func TestJSDistance_IdenticalDistributionsAreZero(t *testing.T) {
	p := []float64{0.2, 0.3, 0.5}
	assert.InDelta(t, 0.0, JSDistance(p, p), 1e-6)
}

func TestJSDistance_DisjointDistributionsNearMax(t *testing.T) {
	p := []float64{1, 0, 0, 0}
	q := []float64{0, 0, 0, 1}
	d := JSDistance(p, q)
	assert.Greater(t, d, 0.9)
	assert.LessOrEqual(t, d, 1.0)
}

func TestJSDistance_MissingDistributionIsMax(t *testing.T) {
	assert.Equal(t, 1.0, JSDistance(nil, []float64{0.5, 0.5}))
}

func TestJSDistance_ZeroMassIsMax(t *testing.T) {
	assert.Equal(t, 1.0, JSDistance([]float64{0, 0}, []float64{0.5, 0.5}))
}

func TestJSDistance_NeverNaN(t *testing.T) {
	d := JSDistance([]float64{0, 0, 1}, []float64{1, 0, 0})
	assert.False(t, math.IsNaN(d))
}

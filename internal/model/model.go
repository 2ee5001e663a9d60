// Package model holds the personalisation scorer: per-user and per-context
// embeddings feeding a small MLP that predicts, per activity, the probability
// of reject / postpone / accept.
package model

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Model dimensions. Embeddings are rank EmbedDim; the hidden layer is Hidden
// units wide; every activity owns three output logits.
const (
	EmbedDim = 8
	Hidden   = 32
	Classes  = 3
)

// Context labels, in index order.
var ContextNames = []string{"morning", "afternoon", "evening"}

// NumContexts is the size of the context axis.
const NumContexts = 3

// ContextOf buckets a local timestamp into a context index.
func ContextOf(t time.Time) int {
	switch h := t.Hour(); {
	case h < 12:
		return 0
	case h < 18:
		return 1
	default:
		return 2
	}
}

// Rewards maps class index (reject, postpone, accept) to its reward value.
var Rewards = [Classes]float64{-1.0, 0.1, 1.0}

// Params are the trainable weights. They are mutated only by the training
// loop; once inside a published Snapshot they are read-only.
type Params struct {
	UserEmbed *mat.Dense // [U, EmbedDim]
	CtxEmbed  *mat.Dense // [NumContexts, EmbedDim]
	W1        *mat.Dense // [2*EmbedDim, Hidden]
	B1        *mat.Dense // [1, Hidden]
	W2        *mat.Dense // [Hidden, A*Classes]
	B2        *mat.Dense // [1, A*Classes]
}

// NewParams allocates randomly initialised weights for U users and A
// activities.
func NewParams(users, activities int, rng *rand.Rand) *Params {
	return &Params{
		UserEmbed: randDense(users, EmbedDim, rng),
		CtxEmbed:  randDense(NumContexts, EmbedDim, rng),
		W1:        randDense(2*EmbedDim, Hidden, rng),
		B1:        mat.NewDense(1, Hidden, nil),
		W2:        randDense(Hidden, activities*Classes, rng),
		B2:        mat.NewDense(1, activities*Classes, nil),
	}
}

func randDense(r, c int, rng *rand.Rand) *mat.Dense {
	data := make([]float64, r*c)
	scale := 1.0 / math.Sqrt(float64(c))
	for i := range data {
		data[i] = rng.NormFloat64() * scale
	}
	return mat.NewDense(r, c, data)
}

// Forward computes the logits for one (user, context) pair. dropMask, when
// non-nil, zeroes hidden units during training; inference passes nil. The
// hidden activations are returned for backprop.
func (p *Params) Forward(user, ctx int, dropMask []float64) (logits, hidden []float64) {
	input := make([]float64, 2*EmbedDim)
	copy(input, p.UserEmbed.RawRowView(user))
	copy(input[EmbedDim:], p.CtxEmbed.RawRowView(ctx))

	x := mat.NewDense(1, 2*EmbedDim, input)

	var h mat.Dense
	h.Mul(x, p.W1)
	h.Add(&h, p.B1)
	hidden = h.RawRowView(0)
	for i, v := range hidden {
		if v < 0 {
			hidden[i] = 0
		}
		if dropMask != nil {
			hidden[i] *= dropMask[i]
		}
	}

	var out mat.Dense
	out.Mul(&h, p.W2)
	out.Add(&out, p.B2)
	return out.RawRowView(0), hidden
}

// Softmax3 normalises one activity's three logits in place-safe fashion.
func Softmax3(logits []float64) [Classes]float64 {
	max := math.Max(logits[0], math.Max(logits[1], logits[2]))
	var exp [Classes]float64
	var sum float64
	for i := 0; i < Classes; i++ {
		exp[i] = math.Exp(logits[i] - max)
		sum += exp[i]
	}
	for i := range exp {
		exp[i] /= sum
	}
	return exp
}

// Snapshot is one published model state: weights plus the index mappings they
// were trained against. Immutable after publication.
type Snapshot struct {
	Ready      bool
	Params     *Params
	UserIndex  map[string]int
	Activities []string
	ActIndex   map[string]int
	TrainedAt  time.Time
	Rows       int
}

// Score returns the expected reward of proposing an activity to a user in a
// context. ok is false when the user or activity is outside the snapshot's
// indices, or the snapshot is not ready; callers must then fall back to cold
// selection.
func (s *Snapshot) Score(userKey string, ctx int, activity string) (float64, bool) {
	if s == nil || !s.Ready {
		return 0, false
	}
	u, okU := s.UserIndex[userKey]
	a, okA := s.ActIndex[activity]
	if !okU || !okA {
		return 0, false
	}

	logits, _ := s.Params.Forward(u, ctx, nil)
	probs := Softmax3(logits[a*Classes : a*Classes+Classes])
	var reward float64
	for i, p := range probs {
		reward += p * Rewards[i]
	}
	return reward, true
}

// Ref is the atomically swappable model reference that scorers read through.
type Ref struct {
	ptr atomic.Pointer[Snapshot]
}

// Load returns the current snapshot, never nil.
func (r *Ref) Load() *Snapshot {
	if s := r.ptr.Load(); s != nil {
		return s
	}
	return &Snapshot{}
}

// Publish atomically replaces the current snapshot.
func (r *Ref) Publish(s *Snapshot) {
	r.ptr.Store(s)
}

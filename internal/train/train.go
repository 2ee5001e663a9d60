// Package train fits the personalisation model from the response-feedback
// history and publishes immutable snapshots.
package train

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/pawsture/wellmon/internal/catalog"
	"github.com/pawsture/wellmon/internal/logging"
	"github.com/pawsture/wellmon/internal/model"
	"github.com/pawsture/wellmon/internal/store"
)

const (
	epochs       = 6
	batchSize    = 32
	learningRate = 1e-3
	dropoutRate  = 0.2

	// Below this many feedback rows a fit is meaningless; the prior
	// snapshot is left untouched.
	minRows = 5
)

// ErrTooFewRows is returned when the feedback corpus is too small to fit.
var ErrTooFewRows = fmt.Errorf("too few feedback rows to train")

// sample is one training example after index resolution.
type sample struct {
	user, ctx, act int
	label          int // 0 reject, 1 postpone, 2 accept
}

// Trainer owns the single-writer training loop.
type Trainer struct {
	gw  store.Gateway
	ref *model.Ref
	rng *rand.Rand
}

func New(gw store.Gateway, ref *model.Ref) *Trainer {
	return &Trainer{gw: gw, ref: ref, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Train pulls the feedback history, fits a new model and publishes it. With
// fewer than minRows usable rows the prior snapshot is kept and
// ErrTooFewRows returned.
func (t *Trainer) Train(ctx context.Context) error {
	history, err := t.gw.TrainingHistory(ctx)
	if err != nil {
		return fmt.Errorf("fetch training history: %w", err)
	}

	snapshot, err := t.fit(history)
	if err != nil {
		return err
	}
	t.ref.Publish(snapshot)
	logging.Info("train", "published model: %d rows, %d users, %d activities",
		snapshot.Rows, len(snapshot.UserIndex), len(snapshot.Activities))
	return nil
}

func (t *Trainer) fit(history []store.FeedbackRow) (*model.Snapshot, error) {
	userIndex, activities, actIndex, samples, tsr := buildDataset(history)
	if len(samples) < minRows {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewRows, len(samples), minRows)
	}

	params := model.NewParams(len(userIndex), len(activities), t.rng)

	// CP init: factor the reward tensor and seed the embeddings with the
	// user and context factors. Numerical failure just keeps the random
	// initialisation.
	if fu, fc, _, err := cpDecompose(tsr, model.EmbedDim, t.rng); err != nil {
		logging.Debug("train", "cp init skipped: %v", err)
	} else {
		params.UserEmbed.Copy(fu)
		params.CtxEmbed.Copy(fc)
	}

	t.sgd(params, samples)

	return &model.Snapshot{
		Ready:      true,
		Params:     params,
		UserIndex:  userIndex,
		Activities: activities,
		ActIndex:   actIndex,
		TrainedAt:  time.Now(),
		Rows:       len(samples),
	}, nil
}

// buildDataset resolves rows against stable indices and fills the reward
// tensor with the most recent reward per cell.
func buildDataset(history []store.FeedbackRow) (map[string]int, []string, map[string]int, []sample, *tensor) {
	activities := catalog.Activities()
	actIndex := make(map[string]int, len(activities))
	for i, name := range activities {
		actIndex[name] = i
	}

	// User keys are the ids as strings, index order sorted numerically for
	// stability across runs.
	userSet := map[int]bool{}
	for _, row := range history {
		if _, ok := actIndex[row.Activity]; ok {
			userSet[row.UserID] = true
		}
	}
	userIDs := make([]int, 0, len(userSet))
	for id := range userSet {
		userIDs = append(userIDs, id)
	}
	sort.Ints(userIDs)
	userIndex := make(map[string]int, len(userIDs))
	for i, id := range userIDs {
		userIndex[strconv.Itoa(id)] = i
	}

	rows := make([]store.FeedbackRow, len(history))
	copy(rows, history)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })

	tsr := newTensor(maxInt(len(userIndex), 1), model.NumContexts, maxInt(len(activities), 1))
	var samples []sample
	for _, row := range rows {
		act, ok := actIndex[row.Activity]
		if !ok {
			continue
		}
		label, reward, ok := labelOf(row.Response)
		if !ok {
			logging.Debug("train", "skipping unknown response verb %q", row.Response)
			continue
		}
		u := userIndex[strconv.Itoa(row.UserID)]
		c := model.ContextOf(row.CreatedAt)
		tsr.set(u, c, act, reward)
		samples = append(samples, sample{user: u, ctx: c, act: act, label: label})
	}
	return userIndex, activities, actIndex, samples, tsr
}

func labelOf(response string) (label int, reward float64, ok bool) {
	switch response {
	case "reject":
		return 0, -1.0, true
	case "postpone":
		return 1, 0.1, true
	case "accept":
		return 2, 1.0, true
	default:
		return 0, 0, false
	}
}

// sgd runs the mini-batch Adam fit with cross-entropy on the chosen
// activity's three-logit slice.
func (t *Trainer) sgd(p *model.Params, samples []sample) {
	params := []*mat.Dense{p.UserEmbed, p.CtxEmbed, p.W1, p.B1, p.W2, p.B2}
	opt := newAdam(learningRate, params)

	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < epochs; epoch++ {
		t.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var epochLoss float64
		for start := 0; start < len(order); start += batchSize {
			end := minInt(start+batchSize, len(order))
			grads := zeroLike(params)

			for _, idx := range order[start:end] {
				s := samples[idx]
				epochLoss += t.backprop(p, grads, s)
			}
			scale := 1.0 / float64(end-start)
			for _, g := range grads {
				g.Scale(scale, g)
			}
			opt.step(params, grads)
		}
		logging.Debug("train", "epoch %d/%d loss %.4f", epoch+1, epochs, epochLoss/float64(len(samples)))
	}
}

// backprop accumulates one sample's gradients into grads (ordered as in sgd)
// and returns the sample loss.
func (t *Trainer) backprop(p *model.Params, grads []*mat.Dense, s sample) float64 {
	gUser, gCtx, gW1, gB1, gW2, gB2 := grads[0], grads[1], grads[2], grads[3], grads[4], grads[5]

	mask := make([]float64, model.Hidden)
	for i := range mask {
		if t.rng.Float64() >= dropoutRate {
			mask[i] = 1.0 / (1.0 - dropoutRate)
		}
	}

	logits, hidden := p.Forward(s.user, s.ctx, mask)
	base := s.act * model.Classes
	probs := model.Softmax3(logits[base : base+model.Classes])
	loss := -math.Log(math.Max(probs[s.label], 1e-12))

	// dL/dlogit over the active slice only.
	var dlogit [model.Classes]float64
	for i := 0; i < model.Classes; i++ {
		dlogit[i] = probs[i]
	}
	dlogit[s.label] -= 1

	// W2, B2: only the three columns of the chosen activity receive gradient.
	dHidden := make([]float64, model.Hidden)
	for i := 0; i < model.Classes; i++ {
		col := base + i
		for h := 0; h < model.Hidden; h++ {
			gW2.Set(h, col, gW2.At(h, col)+hidden[h]*dlogit[i])
			dHidden[h] += p.W2.At(h, col) * dlogit[i]
		}
		gB2.Set(0, col, gB2.At(0, col)+dlogit[i])
	}

	// Back through dropout and ReLU.
	for h := 0; h < model.Hidden; h++ {
		if hidden[h] <= 0 {
			dHidden[h] = 0
		} else {
			dHidden[h] *= mask[h]
		}
	}

	input := make([]float64, 2*model.EmbedDim)
	copy(input, p.UserEmbed.RawRowView(s.user))
	copy(input[model.EmbedDim:], p.CtxEmbed.RawRowView(s.ctx))

	dInput := make([]float64, 2*model.EmbedDim)
	for i := 0; i < 2*model.EmbedDim; i++ {
		for h := 0; h < model.Hidden; h++ {
			gW1.Set(i, h, gW1.At(i, h)+input[i]*dHidden[h])
			dInput[i] += p.W1.At(i, h) * dHidden[h]
		}
	}
	for h := 0; h < model.Hidden; h++ {
		gB1.Set(0, h, gB1.At(0, h)+dHidden[h])
	}

	for i := 0; i < model.EmbedDim; i++ {
		gUser.Set(s.user, i, gUser.At(s.user, i)+dInput[i])
		gCtx.Set(s.ctx, i, gCtx.At(s.ctx, i)+dInput[model.EmbedDim+i])
	}
	return loss
}

// Run executes the training loop: once at start, then on every retrain
// signal, then periodically when interval > 0.
func (t *Trainer) Run(ctx context.Context, retrain <-chan struct{}, interval time.Duration) {
	if err := t.Train(ctx); err != nil {
		logging.Warn("train", "initial training skipped: %v", err)
	}

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-retrain:
		case <-tick:
		}
		if err := t.Train(ctx); err != nil {
			logging.Warn("train", "retrain failed: %v", err)
		}
	}
}

// adam holds per-parameter first and second moment estimates.
type adam struct {
	lr, beta1, beta2, eps float64
	steps                 int
	m, v                  [][]float64
}

func newAdam(lr float64, params []*mat.Dense) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, p := range params {
		n := len(p.RawMatrix().Data)
		a.m = append(a.m, make([]float64, n))
		a.v = append(a.v, make([]float64, n))
	}
	return a
}

func (a *adam) step(params, grads []*mat.Dense) {
	a.steps++
	c1 := 1 - math.Pow(a.beta1, float64(a.steps))
	c2 := 1 - math.Pow(a.beta2, float64(a.steps))

	for i, p := range params {
		data := p.RawMatrix().Data
		g := grads[i].RawMatrix().Data
		for j := range data {
			a.m[i][j] = a.beta1*a.m[i][j] + (1-a.beta1)*g[j]
			a.v[i][j] = a.beta2*a.v[i][j] + (1-a.beta2)*g[j]*g[j]
			mHat := a.m[i][j] / c1
			vHat := a.v[i][j] / c2
			data[j] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
}

func zeroLike(params []*mat.Dense) []*mat.Dense {
	out := make([]*mat.Dense, len(params))
	for i, p := range params {
		r, c := p.Dims()
		out[i] = mat.NewDense(r, c, nil)
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

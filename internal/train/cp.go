package train

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

const (
	alsIterations = 25
	alsRidge      = 1e-6
)

// tensor is the dense reward grid over users x contexts x activities.
type tensor struct {
	u, c, a int
	data    []float64
}

func newTensor(u, c, a int) *tensor {
	return &tensor{u: u, c: c, a: a, data: make([]float64, u*c*a)}
}

func (t *tensor) set(u, c, a int, v float64) { t.data[(u*t.c+c)*t.a+a] = v }
func (t *tensor) at(u, c, a int) float64     { return t.data[(u*t.c+c)*t.a+a] }

// unfold returns the mode-n unfolding of the tensor (n in 0..2).
func (t *tensor) unfold(mode int) *mat.Dense {
	switch mode {
	case 0:
		m := mat.NewDense(t.u, t.c*t.a, nil)
		for u := 0; u < t.u; u++ {
			for c := 0; c < t.c; c++ {
				for a := 0; a < t.a; a++ {
					m.Set(u, a*t.c+c, t.at(u, c, a))
				}
			}
		}
		return m
	case 1:
		m := mat.NewDense(t.c, t.u*t.a, nil)
		for u := 0; u < t.u; u++ {
			for c := 0; c < t.c; c++ {
				for a := 0; a < t.a; a++ {
					m.Set(c, a*t.u+u, t.at(u, c, a))
				}
			}
		}
		return m
	default:
		m := mat.NewDense(t.a, t.u*t.c, nil)
		for u := 0; u < t.u; u++ {
			for c := 0; c < t.c; c++ {
				for a := 0; a < t.a; a++ {
					m.Set(a, c*t.u+u, t.at(u, c, a))
				}
			}
		}
		return m
	}
}

// khatriRao computes the column-wise Khatri-Rao product of b and c: each row
// of the result pairs one row of b with one row of c.
func khatriRao(b, c *mat.Dense) *mat.Dense {
	br, rank := b.Dims()
	cr, _ := c.Dims()
	out := mat.NewDense(br*cr, rank, nil)
	for i := 0; i < br; i++ {
		for j := 0; j < cr; j++ {
			for r := 0; r < rank; r++ {
				out.Set(i*cr+j, r, b.At(i, r)*c.At(j, r))
			}
		}
	}
	return out
}

// cpDecompose runs rank-r CP (PARAFAC) via alternating least squares and
// returns the three factor matrices. A non-finite result or a singular solve
// is reported as an error so the caller can skip initialisation.
func cpDecompose(t *tensor, rank int, rng *rand.Rand) (fu, fc, fa *mat.Dense, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cp decomposition: %v", r)
		}
	}()

	factors := []*mat.Dense{
		randFactor(t.u, rank, rng),
		randFactor(t.c, rank, rng),
		randFactor(t.a, rank, rng),
	}

	for iter := 0; iter < alsIterations; iter++ {
		for mode := 0; mode < 3; mode++ {
			// Khatri-Rao of the other two factors, later mode first.
			var kr *mat.Dense
			switch mode {
			case 0:
				kr = khatriRao(factors[2], factors[1])
			case 1:
				kr = khatriRao(factors[2], factors[0])
			default:
				kr = khatriRao(factors[1], factors[0])
			}

			// Gram product: hadamard of the other factors' grams, ridged.
			gram := mat.NewDense(rank, rank, nil)
			for r := 0; r < rank; r++ {
				gram.Set(r, r, alsRidge)
			}
			hadamardGrams(gram, factors, mode)

			unfolded := t.unfold(mode)
			var rhs mat.Dense
			rhs.Mul(unfolded, kr)

			var solved mat.Dense
			// gram is symmetric, so solving gram X^T = rhs^T gives
			// X = rhs gram^{-1}.
			if err := solved.Solve(gram, rhs.T()); err != nil {
				return nil, nil, nil, fmt.Errorf("als solve mode %d: %w", mode, err)
			}
			var next mat.Dense
			next.CloneFrom(solved.T())
			factors[mode] = &next
		}
	}

	for _, f := range factors {
		if !finite(f) {
			return nil, nil, nil, fmt.Errorf("cp decomposition produced non-finite factors")
		}
	}
	return factors[0], factors[1], factors[2], nil
}

// hadamardGrams adds the elementwise product of the gram matrices of every
// factor except skip into dst.
func hadamardGrams(dst *mat.Dense, factors []*mat.Dense, skip int) {
	rank, _ := dst.Dims()
	prod := mat.NewDense(rank, rank, nil)
	for i := 0; i < rank; i++ {
		for j := 0; j < rank; j++ {
			prod.Set(i, j, 1)
		}
	}
	for m, f := range factors {
		if m == skip {
			continue
		}
		var g mat.Dense
		g.Mul(f.T(), f)
		prod.MulElem(prod, &g)
	}
	dst.Add(dst, prod)
}

func randFactor(r, c int, rng *rand.Rand) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.Float64()
	}
	return mat.NewDense(r, c, data)
}

func finite(m *mat.Dense) bool {
	raw := m.RawMatrix()
	for _, v := range raw.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

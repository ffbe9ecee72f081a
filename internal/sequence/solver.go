package sequence

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// AnnealingSolver searches the open-path ordering with random 2-opt and
// relocation moves under simulated-annealing acceptance. It honors the
// problem's wall-clock budget and returns its best-found order rather than
// blocking on pathological inputs. A fixed seed makes runs reproducible.
type AnnealingSolver struct {
	Seed            int64
	InitialTemp     float64
	Cooling         float64
	IterationsLimit int
}

// priorityWeight scales the soft priority penalty relative to the mean leg
// length so the penalty never dominates distance.
const priorityWeight = 0.1

func (s *AnnealingSolver) Solve(ctx context.Context, p Problem) ([]int, error) {
	n := len(p.Dist) - 1
	if n <= 0 {
		return nil, nil
	}
	budget := p.Budget
	if budget <= 0 {
		budget = 2 * time.Second
	}
	deadline := time.Now().Add(budget)

	seed := s.Seed
	if seed == 0 {
		seed = 1
	}
	rng := rand.New(rand.NewSource(seed))

	// Greedy seed, repaired to satisfy hard precedence.
	curr := greedySeed(p.Dist, n)
	curr = repairPrecedence(curr, p.Precedence)
	if !satisfiesPrecedence(curr, p.Precedence) {
		// contradictory constraints; signal the caller to fall back
		return nil, errors.New("solver: infeasible precedence constraints")
	}

	w := priorityWeight * meanLeg(p.Dist)
	cost := func(order []int) float64 {
		c := pathDistance(p.Dist, order)
		for pos, idx := range order {
			if idx < len(p.Priorities) {
				c += w * float64(p.Priorities[idx]) * float64(pos)
			}
		}
		return c
	}

	best := append([]int(nil), curr...)
	bestCost := cost(best)
	currCost := bestCost

	temp := s.InitialTemp
	if temp <= 0 {
		temp = 1
	}
	cool := s.Cooling
	if cool <= 0 || cool >= 1 {
		cool = 0.995
	}

	iterations := 0
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		iterations++
		if s.IterationsLimit > 0 && iterations > s.IterationsLimit {
			break
		}

		cand := neighbor(curr, rng)
		if !satisfiesPrecedence(cand, p.Precedence) {
			continue
		}
		cc := cost(cand)
		delta := cc - currCost
		if delta < 0 || rng.Float64() < math.Exp(-delta/(temp+1e-9)) {
			curr, currCost = cand, cc
			if cc < bestCost {
				best = append(best[:0:0], cand...)
				bestCost = cc
			}
		}
		temp *= cool
	}
	return best, nil
}

// neighbor produces a candidate by either reversing a segment (2-opt) or
// relocating a single stop.
func neighbor(order []int, rng *rand.Rand) []int {
	n := len(order)
	cand := append([]int(nil), order...)
	if n < 2 {
		return cand
	}
	if n > 2 && rng.Intn(2) == 0 {
		i := rng.Intn(n - 1)
		k := i + 1 + rng.Intn(n-i-1)
		for a, b := i, k; a < b; a, b = a+1, b-1 {
			cand[a], cand[b] = cand[b], cand[a]
		}
		return cand
	}
	i := rng.Intn(n)
	j := rng.Intn(n)
	v := cand[i]
	cand = append(cand[:i], cand[i+1:]...)
	if j > len(cand) {
		j = len(cand)
	}
	cand = append(cand[:j], append([]int{v}, cand[j:]...)...)
	return cand
}

// greedySeed builds the nearest-neighbor order used as the starting point.
func greedySeed(dist [][]float64, n int) []int {
	visited := make([]bool, n)
	order := make([]int, 0, n)
	cur := 0
	for len(order) < n {
		best := -1
		for i := 0; i < n; i++ {
			if visited[i] {
				continue
			}
			if best == -1 || dist[cur][i+1] < dist[cur][best+1] {
				best = i
			}
		}
		visited[best] = true
		order = append(order, best)
		cur = best + 1
	}
	return order
}

func satisfiesPrecedence(order []int, prec [][2]int) bool {
	if len(prec) == 0 {
		return true
	}
	pos := make(map[int]int, len(order))
	for i, idx := range order {
		pos[idx] = i
	}
	for _, pr := range prec {
		if pos[pr[0]] > pos[pr[1]] {
			return false
		}
	}
	return true
}

// repairPrecedence bubbles predecessors ahead of their successors. Bounded
// passes; cyclic constraints leave the order unsatisfiable and are caught
// by the caller.
func repairPrecedence(order []int, prec [][2]int) []int {
	limit := len(order)*len(prec) + 1
	for pass := 0; pass < limit; pass++ {
		moved := false
		pos := make(map[int]int, len(order))
		for i, idx := range order {
			pos[idx] = i
		}
		for _, pr := range prec {
			pa, pb := pos[pr[0]], pos[pr[1]]
			if pa <= pb {
				continue
			}
			v := order[pa]
			order = append(order[:pa], order[pa+1:]...)
			order = append(order[:pb], append([]int{v}, order[pb:]...)...)
			moved = true
			break
		}
		if !moved {
			return order
		}
	}
	return order
}

func meanLeg(dist [][]float64) float64 {
	total, count := 0.0, 0
	for i := range dist {
		for j := range dist[i] {
			if i != j {
				total += dist[i][j]
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

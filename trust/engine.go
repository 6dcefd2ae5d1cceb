package trust

import (
	"encoding/hex"
	"math"
	"sort"
	"time"

	"github.com/blackyblack/identity-server/observability"
)

// Engine is the TrustEngine (C6): the cycle-safe recursive evaluator of
// idt(u) and penalty(u) over a Store snapshot.
type Engine struct {
	store Store
}

// NewEngine constructs an evaluator over store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// IDT computes idt(u) per spec.md §4.5.2, starting a fresh visited set.
func (e *Engine) IDT(u []byte) (int64, error) {
	start := time.Now()
	result, err := e.idt(u, make(map[string]bool))
	observability.Engine().Observe("idt", time.Since(start))
	return result, err
}

// Penalty computes penalty(u) per spec.md §4.5.3, starting a fresh visited
// set independent of any IDT evaluation in progress.
func (e *Engine) Penalty(u []byte) (int64, error) {
	start := time.Now()
	result, err := e.penalty(u, make(map[string]bool))
	observability.Engine().Observe("penalty", time.Since(start))
	return result, err
}

func (e *Engine) idt(u []byte, visited map[string]bool) (int64, error) {
	key := hex.EncodeToString(u)
	if visited[key] {
		return 0, nil
	}
	visited[key] = true

	var proofBalance int64
	proof, ok, err := e.store.GetProof(u)
	if err != nil {
		return 0, err
	}
	if ok {
		proofBalance = proof.Balance
	}

	vouchers, err := e.store.IncomingVouches(u)
	if err != nil {
		return 0, err
	}

	type ranked struct {
		idt int64
	}
	scores := make([]ranked, len(vouchers))
	for i, v := range vouchers {
		childIDT, err := e.idt(v.Identity, visited)
		if err != nil {
			return 0, err
		}
		scores[i] = ranked{idt: childIDT}
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].idt > scores[j].idt })
	if len(scores) > TopVouchersSize {
		scores = scores[:TopVouchersSize]
	}

	var sum float64
	for _, s := range scores {
		sum += float64(s.idt) * IDTReduceByLevelCoefficient
	}
	byVouchers := int64(math.Floor(sum))

	penalty, err := e.penalty(u, make(map[string]bool))
	if err != nil {
		return 0, err
	}

	result := byVouchers + proofBalance - penalty
	if result < 0 {
		result = 0
	}
	return result, nil
}

func (e *Engine) penalty(u []byte, visited map[string]bool) (int64, error) {
	key := hex.EncodeToString(u)
	if visited[key] {
		return 0, nil
	}
	visited[key] = true

	records, err := e.store.PenaltiesOf(u)
	if err != nil {
		return 0, err
	}
	var byProof int64
	for _, r := range records {
		byProof += r.Balance
	}

	vouchees, err := e.store.OutgoingVouches(u)
	if err != nil {
		return 0, err
	}

	var sum float64
	for _, w := range vouchees {
		childPenalty, err := e.penalty(w.Identity, visited)
		if err != nil {
			return 0, err
		}
		clamped := childPenalty
		if clamped > MaxVoucheePenalty {
			clamped = MaxVoucheePenalty
		}
		sum += float64(clamped) * PenaltyReduceByLevelCoefficient
	}
	byVouchees := int64(math.Floor(sum))

	return byProof + byVouchees, nil
}

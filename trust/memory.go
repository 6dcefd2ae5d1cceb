package trust

import (
	"encoding/hex"
	"sync"
)

// MemoryStore is an in-process Store backed by maps plus insertion-order
// indexes, so IncomingVouches/OutgoingVouches/PenaltiesOf return results in
// a stable order for the engine's tie-breaking (spec.md §4.5.2).
type MemoryStore struct {
	mu sync.RWMutex

	// outgoing[voucher] and incoming[vouchee] map to the edge; *Order
	// slices record first-insertion order for stable iteration.
	outgoing      map[string]map[string]VouchEdge
	outgoingOrder map[string][]string
	incoming      map[string]map[string]VouchEdge
	incomingOrder map[string][]string

	proofs map[string]*Proof

	// penalties keyed by proof_id; byTarget indexes proof_ids per target
	// in insertion order so a reused proof_id overwrites in place rather
	// than duplicating or reordering.
	penalties     map[string]penaltyEntry
	byTarget      map[string][]string
	byTargetIndex map[string]map[string]int
}

type penaltyEntry struct {
	target    string
	moderator []byte
	record    PenaltyRecord
}

// NewMemoryStore constructs an empty in-memory trust store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		outgoing:      make(map[string]map[string]VouchEdge),
		outgoingOrder: make(map[string][]string),
		incoming:      make(map[string]map[string]VouchEdge),
		incomingOrder: make(map[string][]string),
		proofs:        make(map[string]*Proof),
		penalties:     make(map[string]penaltyEntry),
		byTarget:      make(map[string][]string),
		byTargetIndex: make(map[string]map[string]int),
	}
}

func keyOf(u []byte) string { return hex.EncodeToString(u) }

func (s *MemoryStore) InsertVouch(voucher, vouchee []byte, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vr, ve := keyOf(voucher), keyOf(vouchee)

	if s.outgoing[vr] == nil {
		s.outgoing[vr] = make(map[string]VouchEdge)
	}
	if _, exists := s.outgoing[vr][ve]; !exists {
		s.outgoingOrder[vr] = append(s.outgoingOrder[vr], ve)
	}
	s.outgoing[vr][ve] = VouchEdge{Identity: append([]byte(nil), vouchee...), Timestamp: ts}

	if s.incoming[ve] == nil {
		s.incoming[ve] = make(map[string]VouchEdge)
	}
	if _, exists := s.incoming[ve][vr]; !exists {
		s.incomingOrder[ve] = append(s.incomingOrder[ve], vr)
	}
	s.incoming[ve][vr] = VouchEdge{Identity: append([]byte(nil), voucher...), Timestamp: ts}
	return nil
}

func (s *MemoryStore) IncomingVouches(u []byte) ([]VouchEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k := keyOf(u)
	return orderedEdges(s.incoming[k], s.incomingOrder[k]), nil
}

func (s *MemoryStore) OutgoingVouches(u []byte) ([]VouchEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k := keyOf(u)
	return orderedEdges(s.outgoing[k], s.outgoingOrder[k]), nil
}

func orderedEdges(m map[string]VouchEdge, order []string) []VouchEdge {
	out := make([]VouchEdge, 0, len(order))
	for _, k := range order {
		out = append(out, m[k])
	}
	return out
}

func (s *MemoryStore) GetProof(u []byte) (*Proof, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proofs[keyOf(u)]
	if !ok {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

func (s *MemoryStore) SetProof(u []byte, balance int64, ts int64, proofID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proofs[keyOf(u)] = &Proof{
		User:      append([]byte(nil), u...),
		Balance:   balance,
		Timestamp: ts,
		ProofID:   proofID,
	}
	return nil
}

func (s *MemoryStore) PenaltiesOf(u []byte) ([]PenaltyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byTarget[keyOf(u)]
	out := make([]PenaltyRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.penalties[id].record)
	}
	return out, nil
}

func (s *MemoryStore) InsertPenalty(proofID string, target, moderator []byte, balance int64, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tk := keyOf(target)
	if prior, ok := s.penalties[proofID]; ok && prior.target != tk {
		s.removeFromTarget(prior.target, proofID)
	}

	s.penalties[proofID] = penaltyEntry{
		target:    tk,
		moderator: append([]byte(nil), moderator...),
		record:    PenaltyRecord{Balance: balance, Timestamp: ts},
	}

	if s.byTargetIndex[tk] == nil {
		s.byTargetIndex[tk] = make(map[string]int)
	}
	if _, exists := s.byTargetIndex[tk][proofID]; !exists {
		s.byTargetIndex[tk][proofID] = len(s.byTarget[tk])
		s.byTarget[tk] = append(s.byTarget[tk], proofID)
	}
	return nil
}

func (s *MemoryStore) removeFromTarget(targetKey, proofID string) {
	idx, ok := s.byTargetIndex[targetKey][proofID]
	if !ok {
		return
	}
	ids := s.byTarget[targetKey]
	s.byTarget[targetKey] = append(ids[:idx], ids[idx+1:]...)
	delete(s.byTargetIndex[targetKey], proofID)
	for i := idx; i < len(s.byTarget[targetKey]); i++ {
		s.byTargetIndex[targetKey][s.byTarget[targetKey][i]] = i
	}
}

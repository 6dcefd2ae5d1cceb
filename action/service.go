// Package action implements the ActionService (C7): the verify -> authorize
// -> mutate -> recompute pipeline shared by every signed, mutating request.
package action

import (
	"time"

	"github.com/blackyblack/identity-server/apperr"
	"github.com/blackyblack/identity-server/codec"
	"github.com/blackyblack/identity-server/nonce"
	"github.com/blackyblack/identity-server/roles"
	"github.com/blackyblack/identity-server/signing"
	"github.com/blackyblack/identity-server/trust"
)

// Service orchestrates signed actions against the trust, role, and nonce
// capabilities. The nonce registry and key locks are required dependencies;
// locks serialize the check-consume-mutate critical section per
// (namespace, signer), per spec.md §5.
type Service struct {
	Trust  trust.Store
	Roles  roles.Store
	Nonces nonce.Registry
	Locks  *nonce.KeyLocks
	Engine *trust.Engine

	// Now returns the wall-clock timestamp recorded on mutations. Defaults
	// to time.Now().Unix() when nil.
	Now func() int64
}

func (s *Service) now() int64 {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().Unix()
}

// Request carries the decoded wire fields common to every signed action.
type Request struct {
	SignerB58 string
	UserB58   string
	Nonce     int64
	SigB64    string

	Balance int64
	ProofID string
}

func (s *Service) decode(req Request) (signer, user, sig []byte, err error) {
	signer, err = codec.DecodeIdentity(req.SignerB58)
	if err != nil {
		return nil, nil, nil, err
	}
	user, err = codec.DecodeIdentity(req.UserB58)
	if err != nil {
		return nil, nil, nil, err
	}
	sig, err = codec.DecodeSignature(req.SigB64)
	if err != nil {
		return nil, nil, nil, err
	}
	return signer, user, sig, nil
}

// run executes steps 3-7 of spec.md §4.6 under the per-(namespace, signer)
// lock: check the nonce not yet consumed, verify the signature, authorize,
// *then* consume the nonce, and only then mutate. authorize may be nil when
// any signer is allowed (vouch). Keeping authorize ahead of the nonce
// consume step is required by spec.md §5: a rejected (NotAllowed) action
// must never burn the signer's nonce, since no mutation happened for it.
func (s *Service) run(namespace nonce.Namespace, signer, sig, message []byte, n int64, authorize func() error, mutate func() error) error {
	unlock := s.Locks.Lock(namespace, signer)
	defer unlock()

	consumed, err := s.Nonces.IsConsumed(namespace, signer, n)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "nonce lookup failed", err)
	}
	if consumed {
		return apperr.New(apperr.NonceConsumed, "nonce already consumed")
	}
	if !signing.Verify(signer, message, sig) {
		return apperr.New(apperr.BadSignature, "signature verification failed")
	}
	if authorize != nil {
		if err := authorize(); err != nil {
			return err
		}
	}
	if err := s.Nonces.Consume(namespace, signer, n); err != nil {
		return apperr.Wrap(apperr.Internal, "nonce consume failed", err)
	}
	return mutate()
}

// VouchResult is the outcome of a vouch action.
type VouchResult struct {
	From string
	To   string
	IDT  int64
}

// Vouch records signer -> user. Any identity may vouch.
func (s *Service) Vouch(req Request) (VouchResult, error) {
	signer, user, sig, err := s.decode(req)
	if err != nil {
		return VouchResult{}, err
	}
	message := signing.VouchMessage(req.UserB58, req.Nonce)
	mutate := func() error {
		if err := s.Trust.InsertVouch(signer, user, s.now()); err != nil {
			return apperr.Wrap(apperr.Internal, "insert vouch failed", err)
		}
		return nil
	}
	if err := s.run(nonce.NamespaceVouch, signer, sig, message, req.Nonce, nil, mutate); err != nil {
		return VouchResult{}, err
	}
	idt, err := s.Engine.IDT(user)
	if err != nil {
		return VouchResult{}, apperr.Wrap(apperr.Internal, "idt evaluation failed", err)
	}
	return VouchResult{From: req.SignerB58, To: req.UserB58, IDT: idt}, nil
}

// ProofResult is the outcome of a proof action.
type ProofResult struct {
	From    string
	To      string
	IDT     int64
	ProofID string
}

// Proof sets the proof balance for user. signer must be a moderator and
// balance must not exceed trust.MaxIDTByProof.
func (s *Service) Proof(req Request) (ProofResult, error) {
	signer, user, sig, err := s.decode(req)
	if err != nil {
		return ProofResult{}, err
	}
	if req.Balance > trust.MaxIDTByProof {
		return ProofResult{}, apperr.Newf(apperr.InvariantViolation, "balance %d exceeds max %d", req.Balance, trust.MaxIDTByProof)
	}
	message := signing.ProofMessage(req.UserB58, req.Nonce, req.Balance, req.ProofID)
	authorize := func() error {
		isMod, err := s.Roles.IsModerator(signer)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "role lookup failed", err)
		}
		if !isMod {
			return apperr.New(apperr.NotAllowed, "signer is not a moderator")
		}
		return nil
	}
	mutate := func() error {
		if err := s.Trust.SetProof(user, req.Balance, s.now(), req.ProofID); err != nil {
			return apperr.Wrap(apperr.Internal, "set proof failed", err)
		}
		return nil
	}
	if err := s.run(nonce.NamespaceProof, signer, sig, message, req.Nonce, authorize, mutate); err != nil {
		return ProofResult{}, err
	}
	idt, err := s.Engine.IDT(user)
	if err != nil {
		return ProofResult{}, apperr.Wrap(apperr.Internal, "idt evaluation failed", err)
	}
	return ProofResult{From: req.SignerB58, To: req.UserB58, IDT: idt, ProofID: req.ProofID}, nil
}

// PunishResult is the outcome of a punish action.
type PunishResult struct {
	From    string
	To      string
	IDT     int64
	Penalty int64
}

// Punish issues a penalty record against user. signer must be a moderator;
// punish shares the proof nonce namespace (spec.md §9).
func (s *Service) Punish(req Request) (PunishResult, error) {
	signer, user, sig, err := s.decode(req)
	if err != nil {
		return PunishResult{}, err
	}
	message := signing.PunishMessage(req.UserB58, req.Nonce, req.Balance, req.ProofID)
	authorize := func() error {
		isMod, err := s.Roles.IsModerator(signer)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "role lookup failed", err)
		}
		if !isMod {
			return apperr.New(apperr.NotAllowed, "signer is not a moderator")
		}
		return nil
	}
	mutate := func() error {
		if err := s.Trust.InsertPenalty(req.ProofID, user, signer, req.Balance, s.now()); err != nil {
			return apperr.Wrap(apperr.Internal, "insert penalty failed", err)
		}
		return nil
	}
	if err := s.run(nonce.NamespaceProof, signer, sig, message, req.Nonce, authorize, mutate); err != nil {
		return PunishResult{}, err
	}
	idt, err := s.Engine.IDT(user)
	if err != nil {
		return PunishResult{}, apperr.Wrap(apperr.Internal, "idt evaluation failed", err)
	}
	penalty, err := s.Engine.Penalty(user)
	if err != nil {
		return PunishResult{}, apperr.Wrap(apperr.Internal, "penalty evaluation failed", err)
	}
	return PunishResult{From: req.SignerB58, To: req.UserB58, IDT: idt, Penalty: penalty}, nil
}

// RoleResult is the outcome of a moderator/admin grant-or-revoke action.
type RoleResult struct {
	From string
	User string
}

// AddModerator grants the moderator role. signer must be an admin.
func (s *Service) AddModerator(req Request) (RoleResult, error) {
	return s.mutateRole(req, nonce.NamespaceModerator, signing.ModeratorMessage, s.Roles.AddModerator)
}

// RemoveModerator revokes the moderator role. signer must be an admin.
func (s *Service) RemoveModerator(req Request) (RoleResult, error) {
	return s.mutateRole(req, nonce.NamespaceModerator, signing.ModeratorMessage, s.Roles.RemoveModerator)
}

// AddAdmin grants the admin role. signer must already be an admin.
func (s *Service) AddAdmin(req Request) (RoleResult, error) {
	return s.mutateRole(req, nonce.NamespaceAdmin, signing.AdminMessage, s.Roles.AddAdmin)
}

// RemoveAdmin revokes the admin role, including self-removal. signer must
// already be an admin.
func (s *Service) RemoveAdmin(req Request) (RoleResult, error) {
	return s.mutateRole(req, nonce.NamespaceAdmin, signing.AdminMessage, s.Roles.RemoveAdmin)
}

func (s *Service) mutateRole(req Request, namespace nonce.Namespace, messageOf func(string, int64) []byte, mutate func(caller, u []byte) error) (RoleResult, error) {
	signer, user, sig, err := s.decode(req)
	if err != nil {
		return RoleResult{}, err
	}
	message := messageOf(req.UserB58, req.Nonce)
	authorize := func() error {
		isAdmin, err := s.Roles.IsAdmin(signer)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "role lookup failed", err)
		}
		if !isAdmin {
			return apperr.New(apperr.NotAllowed, "caller is not an admin")
		}
		return nil
	}
	// mutate itself re-checks is_admin(caller) too; the RoleStore remains
	// the single source of truth for that authorization (spec.md §4.3),
	// but the check above must run, and succeed, before the nonce is
	// consumed (spec.md §4.6 step 5 precedes step 6).
	if err := s.run(namespace, signer, sig, message, req.Nonce, authorize, func() error { return mutate(signer, user) }); err != nil {
		return RoleResult{}, err
	}
	return RoleResult{From: req.SignerB58, User: req.UserB58}, nil
}

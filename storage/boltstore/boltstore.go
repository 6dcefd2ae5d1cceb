// Package boltstore implements trust.Store, roles.Store, and nonce.Registry
// on top of an embedded BoltDB file, grounded on the teacher's
// bbolt-backed identity gateway store.
package boltstore

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/blackyblack/identity-server/apperr"
	"github.com/blackyblack/identity-server/nonce"
	"github.com/blackyblack/identity-server/roles"
	"github.com/blackyblack/identity-server/trust"
)

var (
	bucketVouchOut = []byte("vouch_out")
	bucketVouchIn  = []byte("vouch_in")
	bucketProofs   = []byte("proofs")
	bucketPenalty  = []byte("penalties")
	bucketPenTgt   = []byte("penalties_by_target")
	bucketAdmins   = []byte("admins")
	bucketMods     = []byte("moderators")
	bucketNonces   = []byte("nonces")
)

var allBuckets = [][]byte{
	bucketVouchOut, bucketVouchIn, bucketProofs, bucketPenalty, bucketPenTgt,
	bucketAdmins, bucketMods, bucketNonces,
}

// Store is the bbolt-backed implementation shared by trust, roles, and
// nonce capabilities, mirroring the single-file-store pattern the teacher
// uses for its identity gateway.
type Store struct {
	db *bolt.DB
}

// Open opens (and migrates) the BoltDB file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate bolt store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error { return s.db.Close() }

func keyOf(u []byte) string { return hex.EncodeToString(u) }

func pairKey(a, b string) []byte { return []byte(a + "|" + b) }

// --- trust.Store ---

type vouchValue struct {
	Timestamp int64 `json:"ts"`
}

func (s *Store) InsertVouch(voucher, vouchee []byte, ts int64) error {
	vr, ve := keyOf(voucher), keyOf(vouchee)
	payload, err := json.Marshal(vouchValue{Timestamp: ts})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketVouchOut).Put(pairKey(vr, ve), payload); err != nil {
			return err
		}
		return tx.Bucket(bucketVouchIn).Put(pairKey(ve, vr), payload)
	})
}

func (s *Store) IncomingVouches(u []byte) ([]trust.VouchEdge, error) {
	return s.scanEdges(bucketVouchIn, keyOf(u))
}

func (s *Store) OutgoingVouches(u []byte) ([]trust.VouchEdge, error) {
	return s.scanEdges(bucketVouchOut, keyOf(u))
}

func (s *Store) scanEdges(bucket []byte, prefix string) ([]trust.VouchEdge, error) {
	var out []trust.VouchEdge
	fullPrefix := []byte(prefix + "|")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Seek(fullPrefix); k != nil && strings.HasPrefix(string(k), string(fullPrefix)); k, v = c.Next() {
			other := strings.TrimPrefix(string(k), string(fullPrefix))
			raw, err := hex.DecodeString(other)
			if err != nil {
				return fmt.Errorf("corrupt vouch key %q: %w", k, err)
			}
			var val vouchValue
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("corrupt vouch value for %q: %w", k, err)
			}
			out = append(out, trust.VouchEdge{Identity: raw, Timestamp: val.Timestamp})
		}
		return nil
	})
	return out, err
}

func (s *Store) GetProof(u []byte) (*trust.Proof, bool, error) {
	var result *trust.Proof
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketProofs).Get([]byte(keyOf(u)))
		if raw == nil {
			return nil
		}
		var p trust.Proof
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("corrupt proof for %x: %w", u, err)
		}
		p.User = append([]byte(nil), u...)
		result = &p
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, result != nil, nil
}

func (s *Store) SetProof(u []byte, balance int64, ts int64, proofID string) error {
	p := trust.Proof{User: u, Balance: balance, Timestamp: ts, ProofID: proofID}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProofs).Put([]byte(keyOf(u)), payload)
	})
}

type penaltyValue struct {
	Target    string `json:"target"`
	Moderator string `json:"moderator"`
	Balance   int64  `json:"balance"`
	Timestamp int64  `json:"ts"`
}

func (s *Store) PenaltiesOf(u []byte) ([]trust.PenaltyRecord, error) {
	var out []trust.PenaltyRecord
	prefix := []byte(keyOf(u) + "|")
	err := s.db.View(func(tx *bolt.Tx) error {
		penalties := tx.Bucket(bucketPenalty)
		c := tx.Bucket(bucketPenTgt).Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			proofID := strings.TrimPrefix(string(k), string(prefix))
			raw := penalties.Get([]byte(proofID))
			if raw == nil {
				continue
			}
			var val penaltyValue
			if err := json.Unmarshal(raw, &val); err != nil {
				return fmt.Errorf("corrupt penalty %q: %w", proofID, err)
			}
			out = append(out, trust.PenaltyRecord{Balance: val.Balance, Timestamp: val.Timestamp})
		}
		return nil
	})
	return out, err
}

func (s *Store) InsertPenalty(proofID string, target, moderator []byte, balance int64, ts int64) error {
	tk := keyOf(target)
	val := penaltyValue{Target: tk, Moderator: keyOf(moderator), Balance: balance, Timestamp: ts}
	payload, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		penalties := tx.Bucket(bucketPenalty)
		byTarget := tx.Bucket(bucketPenTgt)
		if prior := penalties.Get([]byte(proofID)); prior != nil {
			var priorVal penaltyValue
			if err := json.Unmarshal(prior, &priorVal); err == nil && priorVal.Target != tk {
				if err := byTarget.Delete(pairKey(priorVal.Target, proofID)); err != nil {
					return err
				}
			}
		}
		if err := penalties.Put([]byte(proofID), payload); err != nil {
			return err
		}
		return byTarget.Put(pairKey(tk, proofID), []byte{1})
	})
}

// --- roles.Store ---

func (s *Store) IsAdmin(u []byte) (bool, error) { return s.hasMember(bucketAdmins, u) }

func (s *Store) ListAdmins() ([][]byte, error) { return s.members(bucketAdmins) }

func (s *Store) AddAdmin(caller, u []byte) error { return s.addRole(bucketAdmins, caller, u) }

func (s *Store) RemoveAdmin(caller, u []byte) error { return s.removeRole(bucketAdmins, caller, u) }

func (s *Store) IsModerator(u []byte) (bool, error) { return s.hasMember(bucketMods, u) }

func (s *Store) ListModerators() ([][]byte, error) { return s.members(bucketMods) }

func (s *Store) AddModerator(caller, u []byte) error { return s.addRole(bucketMods, caller, u) }

func (s *Store) RemoveModerator(caller, u []byte) error { return s.removeRole(bucketMods, caller, u) }

func (s *Store) BootstrapAdmin(u []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketAdmins).Put([]byte(keyOf(u)), u) })
}

func (s *Store) BootstrapModerator(u []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketMods).Put([]byte(keyOf(u)), u) })
}

func (s *Store) hasMember(bucket, u []byte) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucket).Get([]byte(keyOf(u))) != nil
		return nil
	})
	return found, err
}

func (s *Store) members(bucket []byte) ([][]byte, error) {
	var out [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(_, v []byte) error {
			out = append(out, append([]byte(nil), v...))
			return nil
		})
	})
	return out, err
}

func (s *Store) addRole(bucket, caller, u []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketAdmins).Get([]byte(keyOf(caller))) == nil {
			return apperr.New(apperr.NotAllowed, "caller is not an admin")
		}
		return tx.Bucket(bucket).Put([]byte(keyOf(u)), u)
	})
}

func (s *Store) removeRole(bucket, caller, u []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketAdmins).Get([]byte(keyOf(caller))) == nil {
			return apperr.New(apperr.NotAllowed, "caller is not an admin")
		}
		return tx.Bucket(bucket).Delete([]byte(keyOf(u)))
	})
}

// --- nonce.Registry ---

func nonceKey(namespace nonce.Namespace, signerPK []byte) []byte {
	return []byte(string(namespace) + "|" + keyOf(signerPK))
}

func (s *Store) IsConsumed(namespace nonce.Namespace, signerPK []byte, n int64) (bool, error) {
	var consumed bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketNonces).Get(nonceKey(namespace, signerPK))
		if raw == nil {
			return nil
		}
		if len(raw) != 8 {
			// Storage corruption: fail safe per spec.md §4.2.
			consumed = true
			return nil
		}
		stored := int64(binary.BigEndian.Uint64(raw))
		consumed = stored >= n
		return nil
	})
	return consumed, err
}

func (s *Store) Consume(namespace nonce.Namespace, signerPK []byte, n int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNonces)
		k := nonceKey(namespace, signerPK)
		if raw := b.Get(k); raw != nil && len(raw) == 8 {
			if int64(binary.BigEndian.Uint64(raw)) >= n {
				return nil
			}
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(n))
		return b.Put(k, buf)
	})
}

var (
	_ trust.Store    = (*Store)(nil)
	_ roles.Store    = (*Store)(nil)
	_ nonce.Registry = (*Store)(nil)
)

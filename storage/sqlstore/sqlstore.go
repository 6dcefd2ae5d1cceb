// Package sqlstore implements trust.Store, roles.Store, and nonce.Registry
// on top of a relational backend via gorm, grounded on the teacher's
// otc-gateway models and server packages.
package sqlstore

import (
	"encoding/hex"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blackyblack/identity-server/apperr"
	"github.com/blackyblack/identity-server/nonce"
	"github.com/blackyblack/identity-server/roles"
	"github.com/blackyblack/identity-server/trust"
)

// Store is the gorm-backed implementation of trust.Store, roles.Store, and
// nonce.Registry.
type Store struct {
	db *gorm.DB
}

// Open dials MySQL at dsn and runs AutoMigrate for every model.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.AutoMigrate(&Vouch{}, &Proof{}, &ModeratorPenalty{}, &Admin{}, &Moderator{}, &NonceRecord{}); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

func keyOf(u []byte) string { return hex.EncodeToString(u) }

func decodeKey(s string) []byte {
	raw, _ := hex.DecodeString(s)
	return raw
}

// --- trust.Store ---

func (s *Store) InsertVouch(voucher, vouchee []byte, ts int64) error {
	v := Vouch{Voucher: keyOf(voucher), Vouchee: keyOf(vouchee), Timestamp: ts}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "voucher"}, {Name: "vouchee"}},
		DoUpdates: clause.AssignmentColumns([]string{"timestamp"}),
	}).Create(&v).Error
}

func (s *Store) IncomingVouches(u []byte) ([]trust.VouchEdge, error) {
	var rows []Vouch
	if err := s.db.Where("vouchee = ?", keyOf(u)).Order("voucher").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]trust.VouchEdge, len(rows))
	for i, r := range rows {
		out[i] = trust.VouchEdge{Identity: decodeKey(r.Voucher), Timestamp: r.Timestamp}
	}
	return out, nil
}

func (s *Store) OutgoingVouches(u []byte) ([]trust.VouchEdge, error) {
	var rows []Vouch
	if err := s.db.Where("voucher = ?", keyOf(u)).Order("vouchee").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]trust.VouchEdge, len(rows))
	for i, r := range rows {
		out[i] = trust.VouchEdge{Identity: decodeKey(r.Vouchee), Timestamp: r.Timestamp}
	}
	return out, nil
}

func (s *Store) GetProof(u []byte) (*trust.Proof, bool, error) {
	var row Proof
	err := s.db.Where("user = ?", keyOf(u)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &trust.Proof{User: u, Balance: row.Amount, Timestamp: row.Timestamp, ProofID: row.ProofID}, true, nil
}

func (s *Store) SetProof(u []byte, balance int64, ts int64, proofID string) error {
	row := Proof{User: keyOf(u), Amount: balance, ProofID: proofID, Timestamp: ts}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "proof_id", "timestamp"}),
	}).Create(&row).Error
}

func (s *Store) PenaltiesOf(u []byte) ([]trust.PenaltyRecord, error) {
	var rows []ModeratorPenalty
	if err := s.db.Where("user = ?", keyOf(u)).Order("proof_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]trust.PenaltyRecord, len(rows))
	for i, r := range rows {
		out[i] = trust.PenaltyRecord{Balance: r.Amount, Timestamp: r.Timestamp}
	}
	return out, nil
}

func (s *Store) InsertPenalty(proofID string, target, moderator []byte, balance int64, ts int64) error {
	row := ModeratorPenalty{
		ProofID:   proofID,
		User:      keyOf(target),
		Moderator: keyOf(moderator),
		Amount:    balance,
		Timestamp: ts,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "proof_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user", "moderator", "amount", "timestamp"}),
	}).Create(&row).Error
}

// --- roles.Store ---

func (s *Store) IsAdmin(u []byte) (bool, error) { return s.exists(&Admin{}, keyOf(u)) }

func (s *Store) ListAdmins() ([][]byte, error) {
	var rows []Admin
	if err := s.db.Order("user").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([][]byte, len(rows))
	for i, r := range rows {
		out[i] = decodeKey(r.User)
	}
	return out, nil
}

func (s *Store) AddAdmin(caller, u []byte) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&Admin{User: keyOf(u)}).Error
}

func (s *Store) RemoveAdmin(caller, u []byte) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	return s.db.Where("user = ?", keyOf(u)).Delete(&Admin{}).Error
}

func (s *Store) IsModerator(u []byte) (bool, error) { return s.exists(&Moderator{}, keyOf(u)) }

func (s *Store) ListModerators() ([][]byte, error) {
	var rows []Moderator
	if err := s.db.Order("user").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([][]byte, len(rows))
	for i, r := range rows {
		out[i] = decodeKey(r.User)
	}
	return out, nil
}

func (s *Store) AddModerator(caller, u []byte) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&Moderator{User: keyOf(u)}).Error
}

func (s *Store) RemoveModerator(caller, u []byte) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	return s.db.Where("user = ?", keyOf(u)).Delete(&Moderator{}).Error
}

func (s *Store) BootstrapAdmin(u []byte) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&Admin{User: keyOf(u)}).Error
}

func (s *Store) BootstrapModerator(u []byte) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&Moderator{User: keyOf(u)}).Error
}

func (s *Store) requireAdmin(caller []byte) error {
	ok, err := s.exists(&Admin{}, keyOf(caller))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.NotAllowed, "caller is not an admin")
	}
	return nil
}

func (s *Store) exists(model interface{ TableName() string }, user string) (bool, error) {
	var count int64
	err := s.db.Table(model.TableName()).Where("user = ?", user).Count(&count).Error
	return count > 0, err
}

// --- nonce.Registry ---

func (s *Store) IsConsumed(namespace nonce.Namespace, signerPK []byte, n int64) (bool, error) {
	var row NonceRecord
	err := s.db.Where("namespace = ? AND user = ?", string(namespace), keyOf(signerPK)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return row.UsedNonce >= n, nil
}

func (s *Store) Consume(namespace nonce.Namespace, signerPK []byte, n int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row NonceRecord
		err := tx.Where("namespace = ? AND user = ?", string(namespace), keyOf(signerPK)).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&NonceRecord{Namespace: string(namespace), User: keyOf(signerPK), UsedNonce: n}).Error
		case err != nil:
			return err
		case row.UsedNonce >= n:
			return nil
		default:
			return tx.Model(&row).Update("used_nonce", n).Error
		}
	})
}

var (
	_ trust.Store    = (*Store)(nil)
	_ roles.Store    = (*Store)(nil)
	_ nonce.Registry = (*Store)(nil)
)

package sqlstore

import "time"

// Vouch mirrors the vouches table: PK (voucher, vouchee), indexed on both.
type Vouch struct {
	Voucher   string `gorm:"primaryKey;size:128;index:idx_vouch_voucher"`
	Vouchee   string `gorm:"primaryKey;size:128;index:idx_vouch_vouchee"`
	Timestamp int64
}

func (Vouch) TableName() string { return "vouches" }

// Proof mirrors the proofs table: one active proof per user.
type Proof struct {
	User      string `gorm:"primaryKey;size:128"`
	Moderator string `gorm:"size:128"`
	Amount    int64
	ProofID   string `gorm:"size:128;index"`
	Timestamp int64
}

func (Proof) TableName() string { return "proofs" }

// ModeratorPenalty mirrors the revised moderator_penalties schema, keyed by
// proof_id rather than user (spec.md §9 resolves the discrepancy in favor
// of the in-memory, test-matching semantics).
type ModeratorPenalty struct {
	ProofID   string `gorm:"primaryKey;size:128"`
	User      string `gorm:"size:128;index"`
	Moderator string `gorm:"size:128"`
	Amount    int64
	Timestamp int64
}

func (ModeratorPenalty) TableName() string { return "moderator_penalties" }

// Admin mirrors the admins table.
type Admin struct {
	User string `gorm:"primaryKey;size:128"`
}

func (Admin) TableName() string { return "admins" }

// Moderator mirrors the moderators table.
type Moderator struct {
	User string `gorm:"primaryKey;size:128"`
}

func (Moderator) TableName() string { return "moderators" }

// NonceRecord mirrors the nonces table, one row per (namespace, user).
type NonceRecord struct {
	Namespace  string `gorm:"primaryKey;size:32"`
	User       string `gorm:"primaryKey;size:128"`
	UsedNonce  int64
	UpdateTime time.Time
}

func (NonceRecord) TableName() string { return "nonces" }

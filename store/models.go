// Package store is the durable mirror of on-chain position state: the last
// processed block, pooled-protocol collateral/debt rows, and CDP troves. Every
// write is an upsert keyed on the entity's natural key; every delete is
// idempotent. Numeric fields are persisted as decimal strings so a U256 value
// never loses range to a native integer or float column.
package store

import "time"

// LastBlockRow is the singleton row tracking the highest block whose events
// have been durably applied. The primary key is pinned to 1.
type LastBlockRow struct {
	ID          uint  `gorm:"primaryKey;autoIncrement:false"`
	BlockNumber int64 `gorm:"not null"`
	UpdatedAt   time.Time
}

// TableName pins the row to a stable name regardless of Go type name.
func (LastBlockRow) TableName() string { return "last_block" }

// UserCollateralRow mirrors a pooled-protocol supply position for one
// (user, collateral asset) pair.
type UserCollateralRow struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	UserAddress       string `gorm:"size:42;uniqueIndex:idx_user_collateral_key"`
	CollateralAddress string `gorm:"size:42;uniqueIndex:idx_user_collateral_key"`
	ScaledBalance     string `gorm:"size:80;not null"`
	Enabled           bool   `gorm:"not null;default:false"`
	LastUpdated       int64  `gorm:"not null"`
	UpdatedAt         time.Time
}

func (UserCollateralRow) TableName() string { return "user_collateral" }

// UserDebtRow mirrors a pooled-protocol borrow position for one
// (user, debt asset) pair. Invariant: the row only exists while ScaledBalance > 0.
type UserDebtRow struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	UserAddress  string `gorm:"size:42;uniqueIndex:idx_user_debt_key"`
	DebtAddress  string `gorm:"size:42;uniqueIndex:idx_user_debt_key"`
	ScaledBalance string `gorm:"size:80;not null"`
	LastUpdated  int64  `gorm:"not null"`
	UpdatedAt    time.Time
}

func (UserDebtRow) TableName() string { return "user_debt" }

// TroveRow mirrors a single CDP borrower position.
type TroveRow struct {
	TroveID      string  `gorm:"primaryKey;size:80"`
	Collateral   string  `gorm:"size:80;not null"`
	Debt         string  `gorm:"size:80;not null"`
	InterestRate string  `gorm:"size:80;not null"`
	ICR          string  `gorm:"size:80;not null"`
	ICRNumeric   float64 `gorm:"index:idx_trove_icr_numeric"`
	Status       string  `gorm:"size:16;index"`
	LastUpdated  int64   `gorm:"not null"`
	UpdatedAt    time.Time
}

func (TroveRow) TableName() string { return "troves" }

// Statuses a Trove can be in. status = active iff debt > 0 or collateral > 0.
const (
	TroveStatusActive = "active"
	TroveStatusClosed = "closed"
)

// DiagnosticsTraceRow is a supplemented feature (see SPEC_FULL.md §3): one row
// per successfully sent transaction, whatever its receipt outcome (confirmed,
// reverted, or receipt_error), so a reconciliation job can later correlate
// sent transactions with on-chain outcomes. A send that fails writes no row.
// It is never read by the liquidation decision path.
type DiagnosticsTraceRow struct {
	ID          string `gorm:"primaryKey;size:36"`
	TxHash      string `gorm:"size:66;index"`
	Protocol    string `gorm:"size:16"`
	RawTrace    string `gorm:"type:text"`
	Outcome     string `gorm:"size:16"`
	CapturedAt  time.Time
}

func (DiagnosticsTraceRow) TableName() string { return "diagnostics_trace" }

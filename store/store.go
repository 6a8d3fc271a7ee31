package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the durable mirror of §3/§4.1: transactional single-row operations
// over LastBlock, UserCollateral, UserDebt, and Trove. Every write is an
// upsert keyed on the entity's natural key.
type Store interface {
	GetLastBlock(ctx context.Context) (uint64, error)
	SetLastBlock(ctx context.Context, n uint64) error

	UpsertUserCollateral(ctx context.Context, row UserCollateralRow) error
	UpsertUserCollateralWithEnabled(ctx context.Context, row UserCollateralRow) error
	GetUserCollateral(ctx context.Context, user string) ([]UserCollateralRow, error)
	GetUserCollateralByAsset(ctx context.Context, user, asset string) (*UserCollateralRow, error)
	DeleteUserCollateral(ctx context.Context, user, asset string) error

	UpsertUserDebt(ctx context.Context, row UserDebtRow) error
	GetUserDebt(ctx context.Context, user string) ([]UserDebtRow, error)
	GetUserDebtByAsset(ctx context.Context, user, asset string) (*UserDebtRow, error)
	DeleteUserDebt(ctx context.Context, user, asset string) error
	GetAllUsers(ctx context.Context) ([]string, error)

	UpsertTrove(ctx context.Context, row TroveRow) error
	GetAllActiveTroves(ctx context.Context) ([]TroveRow, error)
	CloseTroves(ctx context.Context, troveIDs []string, lastUpdated int64) error

	RecordDiagnosticsTrace(ctx context.Context, row DiagnosticsTraceRow) error
}

// GormStore implements Store over a gorm.DB, backed by postgres in production
// and sqlite in tests (both drive the same model/query code).
type GormStore struct {
	db *gorm.DB
}

// New wraps an already-opened gorm connection after running AutoMigrate.
func New(db *gorm.DB) (*GormStore, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// AutoMigrate creates/updates every table this service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&LastBlockRow{},
		&UserCollateralRow{},
		&UserDebtRow{},
		&TroveRow{},
		&DiagnosticsTraceRow{},
	)
}

const lastBlockSingletonID = 1

func (s *GormStore) GetLastBlock(ctx context.Context) (uint64, error) {
	var row LastBlockRow
	err := s.db.WithContext(ctx).First(&row, lastBlockSingletonID).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get last block: %w", err)
	}
	return uint64(row.BlockNumber), nil
}

// SetLastBlock is a monotonic write: the calling Strategies never attempt to
// regress, so this simply clobbers the stored value, which satisfies the
// spec's "MAY reject a write with a lower value or simply clobber" clause.
func (s *GormStore) SetLastBlock(ctx context.Context, n uint64) error {
	row := LastBlockRow{ID: lastBlockSingletonID, BlockNumber: int64(n)}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"block_number", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set last block: %w", err)
	}
	return nil
}

func (s *GormStore) UpsertUserCollateral(ctx context.Context, row UserCollateralRow) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_address"}, {Name: "collateral_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"scaled_balance", "last_updated", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert user collateral: %w", err)
	}
	return nil
}

func (s *GormStore) UpsertUserCollateralWithEnabled(ctx context.Context, row UserCollateralRow) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_address"}, {Name: "collateral_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"scaled_balance", "enabled", "last_updated", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert user collateral with enabled: %w", err)
	}
	return nil
}

func (s *GormStore) GetUserCollateral(ctx context.Context, user string) ([]UserCollateralRow, error) {
	var rows []UserCollateralRow
	if err := s.db.WithContext(ctx).Where("user_address = ?", user).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get user collateral: %w", err)
	}
	return rows, nil
}

func (s *GormStore) GetUserCollateralByAsset(ctx context.Context, user, asset string) (*UserCollateralRow, error) {
	var row UserCollateralRow
	err := s.db.WithContext(ctx).Where("user_address = ? AND collateral_address = ?", user, asset).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user collateral by asset: %w", err)
	}
	return &row, nil
}

func (s *GormStore) DeleteUserCollateral(ctx context.Context, user, asset string) error {
	err := s.db.WithContext(ctx).
		Where("user_address = ? AND collateral_address = ?", user, asset).
		Delete(&UserCollateralRow{}).Error
	if err != nil {
		return fmt.Errorf("delete user collateral: %w", err)
	}
	return nil
}

func (s *GormStore) UpsertUserDebt(ctx context.Context, row UserDebtRow) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_address"}, {Name: "debt_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"scaled_balance", "last_updated", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert user debt: %w", err)
	}
	return nil
}

func (s *GormStore) GetUserDebt(ctx context.Context, user string) ([]UserDebtRow, error) {
	var rows []UserDebtRow
	if err := s.db.WithContext(ctx).Where("user_address = ?", user).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get user debt: %w", err)
	}
	return rows, nil
}

func (s *GormStore) GetUserDebtByAsset(ctx context.Context, user, asset string) (*UserDebtRow, error) {
	var row UserDebtRow
	err := s.db.WithContext(ctx).Where("user_address = ? AND debt_address = ?", user, asset).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user debt by asset: %w", err)
	}
	return &row, nil
}

func (s *GormStore) DeleteUserDebt(ctx context.Context, user, asset string) error {
	err := s.db.WithContext(ctx).
		Where("user_address = ? AND debt_address = ?", user, asset).
		Delete(&UserDebtRow{}).Error
	if err != nil {
		return fmt.Errorf("delete user debt: %w", err)
	}
	return nil
}

// GetAllUsers returns every distinct user with at least one non-zero debt
// row, the population the pooled strategy scans each tick.
func (s *GormStore) GetAllUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := s.db.WithContext(ctx).Model(&UserDebtRow{}).
		Distinct().Pluck("user_address", &users).Error
	if err != nil {
		return nil, fmt.Errorf("get all users: %w", err)
	}
	return users, nil
}

func (s *GormStore) UpsertTrove(ctx context.Context, row TroveRow) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "trove_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"collateral", "debt", "interest_rate", "icr", "icr_numeric", "status", "last_updated", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert trove: %w", err)
	}
	return nil
}

// GetAllActiveTroves returns active troves ordered by icr_numeric ascending,
// the risk-sorted population the CDP strategy scans (normally reached via the
// Sorted Trove Cache, never directly, except when the cache itself reloads).
func (s *GormStore) GetAllActiveTroves(ctx context.Context) ([]TroveRow, error) {
	var rows []TroveRow
	err := s.db.WithContext(ctx).
		Where("status = ?", TroveStatusActive).
		Order("icr_numeric ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get all active troves: %w", err)
	}
	return rows, nil
}

// CloseTroves flips status to closed and stamps lastUpdated in a single
// statement, for the batch-liquidation submission path.
func (s *GormStore) CloseTroves(ctx context.Context, troveIDs []string, lastUpdated int64) error {
	if len(troveIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&TroveRow{}).
		Where("trove_id IN ?", troveIDs).
		Updates(map[string]any{"status": TroveStatusClosed, "last_updated": lastUpdated}).Error
	if err != nil {
		return fmt.Errorf("close troves: %w", err)
	}
	return nil
}

func (s *GormStore) RecordDiagnosticsTrace(ctx context.Context, row DiagnosticsTraceRow) error {
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("record diagnostics trace: %w", err)
	}
	return nil
}

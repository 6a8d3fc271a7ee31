package store

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	s, err := New(db)
	require.NoError(t, err)
	return s
}

func TestLastBlockMonotonicWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.GetLastBlock(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, s.SetLastBlock(ctx, 100))
	require.NoError(t, s.SetLastBlock(ctx, 150))

	n, err = s.GetLastBlock(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(150), n)
}

func TestSupplyThenWithdrawLeavesNoRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertUserCollateral(ctx, UserCollateralRow{
		UserAddress: "0xuser", CollateralAddress: "0xasset", ScaledBalance: "100", LastUpdated: 1,
	}))
	row, err := s.GetUserCollateralByAsset(ctx, "0xuser", "0xasset")
	require.NoError(t, err)
	require.NotNil(t, row)

	require.NoError(t, s.DeleteUserCollateral(ctx, "0xuser", "0xasset"))
	row, err = s.GetUserCollateralByAsset(ctx, "0xuser", "0xasset")
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestBorrowThenRepayLeavesNoRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertUserDebt(ctx, UserDebtRow{
		UserAddress: "0xuser", DebtAddress: "0xdebt", ScaledBalance: "50", LastUpdated: 1,
	}))
	require.NoError(t, s.DeleteUserDebt(ctx, "0xuser", "0xdebt"))

	row, err := s.GetUserDebtByAsset(ctx, "0xuser", "0xdebt")
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestGetAllUsersReturnsDistinctDebtHolders(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertUserDebt(ctx, UserDebtRow{UserAddress: "0xa", DebtAddress: "0xd1", ScaledBalance: "1", LastUpdated: 1}))
	require.NoError(t, s.UpsertUserDebt(ctx, UserDebtRow{UserAddress: "0xa", DebtAddress: "0xd2", ScaledBalance: "1", LastUpdated: 1}))
	require.NoError(t, s.UpsertUserDebt(ctx, UserDebtRow{UserAddress: "0xb", DebtAddress: "0xd1", ScaledBalance: "1", LastUpdated: 1}))

	users, err := s.GetAllUsers(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"0xa", "0xb"}, users)
}

func TestTroveClosedOnZeroDebtAndCollateral(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertTrove(ctx, TroveRow{
		TroveID: "1", Collateral: "0", Debt: "0", InterestRate: "0", ICR: "0",
		ICRNumeric: 0, Status: TroveStatusClosed, LastUpdated: 5,
	}))

	troves, err := s.GetAllActiveTroves(ctx)
	require.NoError(t, err)
	require.Empty(t, troves)
}

func TestGetAllActiveTrovesOrderedByICRAscending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertTrove(ctx, TroveRow{TroveID: "1", Collateral: "1", Debt: "1", ICR: "1", ICRNumeric: 3.0, Status: TroveStatusActive, LastUpdated: 1}))
	require.NoError(t, s.UpsertTrove(ctx, TroveRow{TroveID: "2", Collateral: "1", Debt: "1", ICR: "1", ICRNumeric: 1.0, Status: TroveStatusActive, LastUpdated: 1}))
	require.NoError(t, s.UpsertTrove(ctx, TroveRow{TroveID: "3", Collateral: "1", Debt: "1", ICR: "1", ICRNumeric: 2.0, Status: TroveStatusActive, LastUpdated: 1}))

	troves, err := s.GetAllActiveTroves(ctx)
	require.NoError(t, err)
	require.Len(t, troves, 3)
	require.Equal(t, []string{"2", "3", "1"}, []string{troves[0].TroveID, troves[1].TroveID, troves[2].TroveID})
}

func TestCloseTrovesFlipsStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertTrove(ctx, TroveRow{TroveID: "1", Collateral: "1", Debt: "1", ICR: "1", ICRNumeric: 1, Status: TroveStatusActive, LastUpdated: 1}))
	require.NoError(t, s.CloseTroves(ctx, []string{"1"}, 9))

	troves, err := s.GetAllActiveTroves(ctx)
	require.NoError(t, err)
	require.Empty(t, troves)
}

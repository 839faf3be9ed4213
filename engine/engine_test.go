package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnavi/commission-engine/commission"
	"github.com/jnavi/commission-engine/commission/store"
	"github.com/jnavi/commission-engine/engine"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	opID        = "op-1"
	agencyID    = "agency-1"
	connectorID = "conn-1"
	otherConnID = "conn-2"
	otherAgency = "agency-2"

	signageProduct = "prod-signage"
	hotelProduct   = "prod-hotel"
	adSlotProduct  = "prod-adslot"
)

// newTestEngine seeds the directory, catalog, and default settings, and
// pins time and id generation for deterministic assertions.
func newTestEngine(t *testing.T) (*engine.Engine, *store.TxMemory) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewTxMemory()

	eng := engine.New(mem)
	eng.Now = func() time.Time {
		return time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	}
	seq := 0
	eng.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}

	require.NoError(t, mem.SaveSettings(ctx, commission.DefaultSettings()))

	users := []commission.User{
		{ID: opID, Name: "Operator", Role: commission.RoleOperator},
		{ID: agencyID, Name: "Agency One", Role: commission.RoleAgency},
		{ID: otherAgency, Name: "Agency Two", Role: commission.RoleAgency},
		{ID: connectorID, Name: "Connector One", Role: commission.RoleConnector, AgencyID: agencyID},
		{ID: otherConnID, Name: "Connector Two", Role: commission.RoleConnector, AgencyID: otherAgency},
	}
	for _, u := range users {
		require.NoError(t, mem.SaveUser(ctx, u))
	}

	products := []commission.Product{
		{ID: signageProduct, Name: "Lobby Signage", Category: commission.CategorySignage, Type: commission.TypeSignage},
		{ID: hotelProduct, Name: "Hotel Membership", Category: commission.CategoryHotel, Type: commission.TypeHotelMembership},
		{ID: adSlotProduct, Name: "Ad Slot A", Category: commission.CategoryAdSlot, Type: commission.TypeAdSlot},
	}
	for _, p := range products {
		require.NoError(t, mem.SaveProduct(ctx, p))
	}

	return eng, mem
}

func createDeal(t *testing.T, eng *engine.Engine, productID string) *commission.Deal {
	t.Helper()
	deal, err := eng.CreateDeal(context.Background(), connectorID, engine.CreateDealInput{
		ProductID:    productID,
		CustomerName: "Sato",
	})
	require.NoError(t, err)
	return deal
}

func finalizeDeal(t *testing.T, eng *engine.Engine, dealID string, amount int64) *commission.Transaction {
	t.Helper()
	tx, err := eng.FinalizeDeal(context.Background(), connectorID, dealID, amount, "2025-06-30")
	require.NoError(t, err)
	return tx
}

// =============================================================================
// DEAL LIFECYCLE TESTS
// =============================================================================

func TestCreateDeal_InitialStatusFromCategory(t *testing.T) {
	eng, _ := newTestEngine(t)

	signage := createDeal(t, eng, signageProduct)
	assert.Equal(t, commission.StatusLeadCreated, signage.Status)
	assert.Equal(t, commission.SourceManual, signage.Source)
	assert.False(t, signage.Locked)

	hotel := createDeal(t, eng, hotelProduct)
	assert.Equal(t, commission.StatusApplied, hotel.Status)
}

func TestCreateDeal_OperatorReferralIntake(t *testing.T) {
	// The operator registers referral deals on the connector's behalf.
	eng, _ := newTestEngine(t)

	deal, err := eng.CreateDeal(context.Background(), opID, engine.CreateDealInput{
		ConnectorID: connectorID,
		ProductID:   signageProduct,
		Source:      commission.SourceReferral,
	})
	require.NoError(t, err)

	assert.Equal(t, connectorID, deal.ConnectorID)
	assert.Equal(t, commission.SourceReferral, deal.Source)
}

func TestCreateDeal_UnknownProduct(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.CreateDeal(context.Background(), connectorID, engine.CreateDealInput{
		ProductID: "prod-nope",
	})
	assert.ErrorIs(t, err, commission.ErrNotFound)
}

func TestUpdateDealStatus_FreeOrderWithinCategory(t *testing.T) {
	// Intermediate statuses move in any order, including backwards.
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	deal := createDeal(t, eng, signageProduct)

	require.NoError(t, eng.UpdateDealStatus(ctx, connectorID, deal.ID, commission.StatusContractSigned))
	require.NoError(t, eng.UpdateDealStatus(ctx, connectorID, deal.ID, commission.StatusNegotiating))

	got, err := mem.GetDeal(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, commission.StatusNegotiating, got.Status)
}

func TestUpdateDealStatus_RejectsForeignCategoryStatus(t *testing.T) {
	eng, _ := newTestEngine(t)
	deal := createDeal(t, eng, signageProduct)

	err := eng.UpdateDealStatus(context.Background(), connectorID, deal.ID, commission.StatusUnderReview)
	assert.ErrorIs(t, err, commission.ErrInvalidStatus)

	var statusErr *commission.InvalidStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, commission.StatusUnderReview, statusErr.Status)
	assert.Equal(t, commission.TypeSignage, statusErr.ProductType)
}

func TestUpdateDealStatus_AgencyOfOwnerAllowed(t *testing.T) {
	eng, _ := newTestEngine(t)
	deal := createDeal(t, eng, signageProduct)

	err := eng.UpdateDealStatus(context.Background(), agencyID, deal.ID, commission.StatusNegotiating)
	assert.NoError(t, err)
}

func TestUpdateDealStatus_ForeignPartnersDenied(t *testing.T) {
	eng, _ := newTestEngine(t)
	deal := createDeal(t, eng, signageProduct)
	ctx := context.Background()

	err := eng.UpdateDealStatus(ctx, otherConnID, deal.ID, commission.StatusNegotiating)
	assert.ErrorIs(t, err, commission.ErrForbidden, "a foreign connector cannot touch the deal")

	err = eng.UpdateDealStatus(ctx, otherAgency, deal.ID, commission.StatusNegotiating)
	assert.ErrorIs(t, err, commission.ErrForbidden, "a foreign agency cannot touch the deal")
}

// =============================================================================
// FINALIZATION TESTS
// =============================================================================

func TestFinalizeDeal_WritesTransactionAndLocks(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	deal := createDeal(t, eng, signageProduct)

	tx := finalizeDeal(t, eng, deal.ID, 100_000)

	// Split per the default 15%/5% rates.
	assert.Equal(t, int64(10_000), tx.AgencyRewardJPY)
	assert.Equal(t, int64(5_000), tx.ConnectorRewardJPY)
	assert.Equal(t, int64(85_000), tx.PlatformShareJPY)
	assert.Equal(t, int64(100_000), tx.BaseAmountJPY)

	// Rate snapshot frozen into the record.
	assert.True(t, tx.RatesUsed.OverallRate.Equal(decimal.RequireFromString("0.15")))

	// Three allocations: agency, connector, platform.
	require.Len(t, tx.Allocations, 3)
	assert.Equal(t, agencyID, tx.Allocations[0].UserID)
	assert.Equal(t, commission.AllocationUnconfirmed, tx.Allocations[0].Status)
	assert.Equal(t, connectorID, tx.Allocations[1].UserID)
	assert.Equal(t, commission.KindPlatformShare, tx.Allocations[2].Kind)

	// Deal is locked in its terminal status with the sale stamped.
	got, err := mem.GetDeal(ctx, deal.ID)
	require.NoError(t, err)
	assert.True(t, got.Locked)
	assert.Equal(t, commission.StatusConstructionComplete, got.Status)
	assert.Equal(t, int64(100_000), got.FinalSaleAmountJPY)
	require.NotNil(t, got.ClosingDate)
	assert.Equal(t, "2025-06-30", got.ClosingDate.Format("2006-01-02"))
}

func TestFinalizeDeal_ExactlyOnce(t *testing.T) {
	// GIVEN: a finalized deal
	// WHEN: finalizing again (double submission)
	// THEN: DealLocked, and no second transaction exists

	eng, mem := newTestEngine(t)
	ctx := context.Background()
	deal := createDeal(t, eng, signageProduct)
	finalizeDeal(t, eng, deal.ID, 100_000)

	_, err := eng.FinalizeDeal(ctx, connectorID, deal.ID, 200_000, "2025-07-01")
	assert.ErrorIs(t, err, commission.ErrDealLocked)

	txs, err := mem.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestFinalizeDeal_LockedDealRejectsStatusUpdates(t *testing.T) {
	eng, _ := newTestEngine(t)
	deal := createDeal(t, eng, signageProduct)
	finalizeDeal(t, eng, deal.ID, 100_000)

	err := eng.UpdateDealStatus(context.Background(), connectorID, deal.ID, commission.StatusNegotiating)
	assert.ErrorIs(t, err, commission.ErrDealLocked)
}

func TestFinalizeDeal_InvalidInputs(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	deal := createDeal(t, eng, signageProduct)

	_, err := eng.FinalizeDeal(ctx, connectorID, deal.ID, 0, "2025-06-30")
	assert.ErrorIs(t, err, commission.ErrInvalidAmount)

	_, err = eng.FinalizeDeal(ctx, connectorID, deal.ID, -500, "2025-06-30")
	assert.ErrorIs(t, err, commission.ErrInvalidAmount)

	_, err = eng.FinalizeDeal(ctx, connectorID, deal.ID, 1000, "June 30")
	assert.ErrorIs(t, err, commission.ErrInvalidDate)

	_, err = eng.FinalizeDeal(ctx, connectorID, deal.ID, 1000, "2025-02-30")
	assert.ErrorIs(t, err, commission.ErrInvalidDate)
}

func TestFinalizeDeal_HotelRewardsStartConfirmed(t *testing.T) {
	// Hotel membership settles at payment time; its user rewards skip
	// the operator confirmation step entirely.
	eng, _ := newTestEngine(t)
	deal := createDeal(t, eng, hotelProduct)

	tx := finalizeDeal(t, eng, deal.ID, 50_000)

	assert.Equal(t, commission.AllocationConfirmed, tx.Allocations[0].Status)
	assert.Equal(t, commission.AllocationConfirmed, tx.Allocations[1].Status)
}

func TestFinalizeDeal_RateChangeNotRetroactive(t *testing.T) {
	// GIVEN: a transaction finalized under 15%/5%
	// WHEN: the operator raises rates and a second deal is finalized
	// THEN: the first transaction's amounts and snapshot are untouched

	eng, mem := newTestEngine(t)
	ctx := context.Background()

	first := createDeal(t, eng, signageProduct)
	firstTx := finalizeDeal(t, eng, first.ID, 100_000)

	require.NoError(t, eng.SetCommissionRates(ctx, opID, commission.RateConfig{
		OverallRate:   decimal.RequireFromString("0.30"),
		ConnectorRate: decimal.RequireFromString("0.10"),
	}))

	second := createDeal(t, eng, signageProduct)
	secondTx := finalizeDeal(t, eng, second.ID, 100_000)

	assert.Equal(t, int64(10_000), secondTx.ConnectorRewardJPY)
	assert.Equal(t, int64(20_000), secondTx.AgencyRewardJPY)

	got, err := mem.GetTransaction(ctx, firstTx.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), got.ConnectorRewardJPY)
	assert.True(t, got.RatesUsed.OverallRate.Equal(decimal.RequireFromString("0.15")))
}

// =============================================================================
// REWARD CONFIRMATION TESTS
// =============================================================================

func TestConfirmRewards_FlipsUnconfirmed(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	deal := createDeal(t, eng, signageProduct)
	tx := finalizeDeal(t, eng, deal.ID, 100_000)

	require.NoError(t, eng.ConfirmRewards(ctx, opID, tx.ID))

	got, err := mem.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, commission.AllocationConfirmed, got.Allocations[0].Status)
	assert.Equal(t, commission.AllocationConfirmed, got.Allocations[1].Status)
}

func TestConfirmRewards_Idempotent(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	deal := createDeal(t, eng, signageProduct)
	tx := finalizeDeal(t, eng, deal.ID, 100_000)

	require.NoError(t, eng.ConfirmRewards(ctx, opID, tx.ID))
	assert.NoError(t, eng.ConfirmRewards(ctx, opID, tx.ID), "re-confirming is a no-op")
}

func TestConfirmRewards_OperatorOnly(t *testing.T) {
	eng, _ := newTestEngine(t)
	deal := createDeal(t, eng, signageProduct)
	tx := finalizeDeal(t, eng, deal.ID, 100_000)

	err := eng.ConfirmRewards(context.Background(), connectorID, tx.ID)
	assert.ErrorIs(t, err, commission.ErrForbidden)
}

func TestUserRewards_Breakdown(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	// One confirmed transaction, one still unconfirmed.
	d1 := createDeal(t, eng, signageProduct)
	tx1 := finalizeDeal(t, eng, d1.ID, 100_000)
	require.NoError(t, eng.ConfirmRewards(ctx, opID, tx1.ID))

	d2 := createDeal(t, eng, signageProduct)
	finalizeDeal(t, eng, d2.ID, 60_000)

	summary, allocations, err := eng.UserRewards(ctx, connectorID)
	require.NoError(t, err)

	assert.Equal(t, int64(5_000), summary.ConfirmedJPY)
	assert.Equal(t, int64(3_000), summary.UnconfirmedJPY)
	assert.Equal(t, int64(0), summary.RequestedJPY)
	assert.Equal(t, int64(0), summary.PaidJPY)
	assert.Equal(t, int64(5_000), summary.AvailableJPY())
	assert.Len(t, allocations, 2)
}

// =============================================================================
// PAYOUT WORKFLOW TESTS
// =============================================================================

func TestRequestPayout_BelowMinimum(t *testing.T) {
	// GIVEN: 4,999 yen confirmed against a 5,000 yen minimum
	// THEN: rejected with the shortfall reported

	eng, _ := newTestEngine(t)
	ctx := context.Background()

	deal := createDeal(t, eng, signageProduct)
	tx := finalizeDeal(t, eng, deal.ID, 99_999) // connector floor = 4,999
	require.NoError(t, eng.ConfirmRewards(ctx, opID, tx.ID))

	_, err := eng.RequestPayoutAll(ctx, connectorID)
	assert.ErrorIs(t, err, commission.ErrBelowMinimum)

	var belowErr *commission.BelowMinimumError
	require.ErrorAs(t, err, &belowErr)
	assert.Equal(t, int64(4_999), belowErr.AvailableJPY)
	assert.Equal(t, int64(5_000), belowErr.MinimumJPY)
}

func TestRequestPayout_ExactlyAtMinimum(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	deal := createDeal(t, eng, signageProduct)
	tx := finalizeDeal(t, eng, deal.ID, 100_000) // connector = 5,000
	require.NoError(t, eng.ConfirmRewards(ctx, opID, tx.ID))

	pr, err := eng.RequestPayoutAll(ctx, connectorID)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), pr.AmountJPY)
	assert.Equal(t, commission.PayoutRequested, pr.Status)
	assert.Len(t, pr.AllocationIDs, 1)
}

func TestRequestPayout_ClaimsAcrossTransactions(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	for _, amount := range []int64{100_000, 60_000} {
		deal := createDeal(t, eng, signageProduct)
		tx := finalizeDeal(t, eng, deal.ID, amount)
		require.NoError(t, eng.ConfirmRewards(ctx, opID, tx.ID))
	}

	pr, err := eng.RequestPayoutAll(ctx, connectorID)
	require.NoError(t, err)
	assert.Equal(t, int64(8_000), pr.AmountJPY, "5,000 + 3,000 across two transactions")
	assert.Len(t, pr.AllocationIDs, 2)
}

func TestRequestPayout_ClaimedAllocationsExcluded(t *testing.T) {
	// GIVEN: a payout request claiming everything available
	// WHEN: requesting again with no new confirmed rewards
	// THEN: below minimum, because the claimed allocations are spoken for

	eng, _ := newTestEngine(t)
	ctx := context.Background()

	deal := createDeal(t, eng, signageProduct)
	tx := finalizeDeal(t, eng, deal.ID, 200_000)
	require.NoError(t, eng.ConfirmRewards(ctx, opID, tx.ID))

	first, err := eng.RequestPayoutAll(ctx, connectorID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), first.AmountJPY)

	_, err = eng.RequestPayoutAll(ctx, connectorID)
	assert.ErrorIs(t, err, commission.ErrBelowMinimum)
}

func TestRequestPayout_NewRewardsAfterClaimAreClaimable(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	d1 := createDeal(t, eng, signageProduct)
	tx1 := finalizeDeal(t, eng, d1.ID, 200_000)
	require.NoError(t, eng.ConfirmRewards(ctx, opID, tx1.ID))
	_, err := eng.RequestPayoutAll(ctx, connectorID)
	require.NoError(t, err)

	d2 := createDeal(t, eng, signageProduct)
	tx2 := finalizeDeal(t, eng, d2.ID, 120_000)
	require.NoError(t, eng.ConfirmRewards(ctx, opID, tx2.ID))

	second, err := eng.RequestPayoutAll(ctx, connectorID)
	require.NoError(t, err)
	assert.Equal(t, int64(6_000), second.AmountJPY, "only the new, unclaimed reward")
}

func TestRequestPayout_AmountFrozenAtCreation(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	deal := createDeal(t, eng, signageProduct)
	tx := finalizeDeal(t, eng, deal.ID, 200_000)
	require.NoError(t, eng.ConfirmRewards(ctx, opID, tx.ID))

	pr, err := eng.RequestPayoutAll(ctx, connectorID)
	require.NoError(t, err)

	got, err := mem.GetPayoutRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), got.AmountJPY)
}

func TestRequestPayout_OnlyRecipient(t *testing.T) {
	eng, _ := newTestEngine(t)

	// The operator never requests a payout on a partner's behalf.
	_, err := eng.RequestPayoutAll(context.Background(), opID)
	assert.ErrorIs(t, err, commission.ErrForbidden)
}

func TestMarkPayoutPaid_SettlesRequestAndAllocations(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()

	deal := createDeal(t, eng, signageProduct)
	tx := finalizeDeal(t, eng, deal.ID, 200_000)
	require.NoError(t, eng.ConfirmRewards(ctx, opID, tx.ID))
	pr, err := eng.RequestPayoutAll(ctx, connectorID)
	require.NoError(t, err)

	require.NoError(t, eng.MarkPayoutPaid(ctx, opID, pr.ID))

	got, err := mem.GetPayoutRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, commission.PayoutPaid, got.Status)
	require.NotNil(t, got.ProcessedAt)

	for _, id := range got.AllocationIDs {
		a, err := mem.GetAllocation(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, commission.AllocationPaid, a.Status)
	}

	summary, _, err := eng.UserRewards(ctx, connectorID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), summary.PaidJPY)
	assert.Equal(t, int64(0), summary.AvailableJPY())
}

func TestMarkPayoutPaid_DoubleSettlementRejected(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	deal := createDeal(t, eng, signageProduct)
	tx := finalizeDeal(t, eng, deal.ID, 200_000)
	require.NoError(t, eng.ConfirmRewards(ctx, opID, tx.ID))
	pr, err := eng.RequestPayoutAll(ctx, connectorID)
	require.NoError(t, err)

	require.NoError(t, eng.MarkPayoutPaid(ctx, opID, pr.ID))
	err = eng.MarkPayoutPaid(ctx, opID, pr.ID)
	assert.ErrorIs(t, err, commission.ErrAlreadyPaid)
}

func TestMarkPayoutPaid_UnknownRequest(t *testing.T) {
	eng, _ := newTestEngine(t)
	err := eng.MarkPayoutPaid(context.Background(), opID, "pr-nope")
	assert.ErrorIs(t, err, commission.ErrNotFound)
}

// =============================================================================
// SETTINGS AND DIRECTORY TESTS
// =============================================================================

func TestSetCommissionRates_ValidationAndPersistence(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	err := eng.SetCommissionRates(ctx, opID, commission.RateConfig{
		OverallRate:   decimal.RequireFromString("0.15"),
		ConnectorRate: decimal.RequireFromString("0.20"),
	})
	assert.ErrorIs(t, err, commission.ErrInvalidRateConfiguration,
		"connector rate above overall is the unsupported configuration")

	require.NoError(t, eng.SetCommissionRates(ctx, opID, commission.RateConfig{
		OverallRate:   decimal.RequireFromString("0.20"),
		ConnectorRate: decimal.RequireFromString("0.08"),
	}))

	settings, err := eng.Settings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.Rates.OverallRate.Equal(decimal.RequireFromString("0.20")))
	assert.Equal(t, int64(5000), settings.MinPayoutJPY, "threshold untouched by a rate change")
}

func TestSetCommissionRates_OperatorOnly(t *testing.T) {
	eng, _ := newTestEngine(t)
	err := eng.SetCommissionRates(context.Background(), agencyID, commission.DefaultSettings().Rates)
	assert.ErrorIs(t, err, commission.ErrForbidden)
}

func TestRegisterUser_ConnectorNeedsAgency(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.RegisterUser(ctx, opID, commission.User{
		Name: "Orphan", Role: commission.RoleConnector, AgencyID: "agency-nope",
	})
	assert.ErrorIs(t, err, commission.ErrNotFound)

	u, err := eng.RegisterUser(ctx, opID, commission.User{
		Name: "New Connector", Role: commission.RoleConnector, AgencyID: agencyID,
	})
	require.NoError(t, err)
	assert.Equal(t, agencyID, u.AgencyID)
	assert.NotEmpty(t, u.ID)
}

func TestSetConnectorAgency_AffectsFutureDealsOnly(t *testing.T) {
	// GIVEN: a transaction finalized while the connector belonged to
	//        agency-1
	// WHEN: the connector moves to agency-2 and closes another sale
	// THEN: the old transaction still credits agency-1

	eng, _ := newTestEngine(t)
	ctx := context.Background()

	d1 := createDeal(t, eng, signageProduct)
	tx1 := finalizeDeal(t, eng, d1.ID, 100_000)
	assert.Equal(t, agencyID, tx1.AgencyID)

	require.NoError(t, eng.SetConnectorAgency(ctx, opID, connectorID, otherAgency))

	d2 := createDeal(t, eng, signageProduct)
	tx2 := finalizeDeal(t, eng, d2.ID, 100_000)
	assert.Equal(t, otherAgency, tx2.AgencyID)
	assert.Equal(t, agencyID, tx1.AgencyID, "historical attribution is frozen")
}

func TestUnknownActor_Forbidden(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.CreateDeal(context.Background(), "ghost", engine.CreateDealInput{
		ProductID: signageProduct,
	})
	assert.ErrorIs(t, err, commission.ErrForbidden)
}

// =============================================================================
// AGGREGATION AND AUDIT TESTS
// =============================================================================

func TestSalesAggregations(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	d1 := createDeal(t, eng, signageProduct)
	finalizeDeal(t, eng, d1.ID, 100_000)
	d2 := createDeal(t, eng, hotelProduct)
	finalizeDeal(t, eng, d2.ID, 50_000)

	teamSales, err := eng.AgencyTeamSales(ctx, agencyID)
	require.NoError(t, err)
	assert.Equal(t, int64(150_000), teamSales)

	connSales, err := eng.ConnectorSales(ctx, connectorID)
	require.NoError(t, err)
	assert.Equal(t, int64(150_000), connSales)

	byCategory, err := eng.SalesByCategory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), byCategory[commission.CategorySignage])
	assert.Equal(t, int64(50_000), byCategory[commission.CategoryHotel])
}

func TestOperationLog_RecordsCommands(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	deal := createDeal(t, eng, signageProduct)
	tx := finalizeDeal(t, eng, deal.ID, 100_000)
	require.NoError(t, eng.ConfirmRewards(ctx, opID, tx.ID))

	logs, err := eng.OperationLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 3)

	// Newest first.
	assert.Equal(t, string(commission.ActionConfirmRewards), logs[0].Action)
	assert.Equal(t, string(commission.ActionFinalizeDeal), logs[1].Action)
	assert.Equal(t, string(commission.ActionCreateDeal), logs[2].Action)
	assert.Equal(t, deal.ID, logs[2].RelatedID)
}

// =============================================================================
// ATOMICITY TESTS
// =============================================================================

func TestFinalizeDeal_RollbackOnSettingsFailure(t *testing.T) {
	// GIVEN: settings missing so finalize fails mid-transaction
	// THEN: the deal stays unlocked and no transaction leaks

	ctx := context.Background()
	mem := store.NewTxMemory()
	eng := engine.New(mem)

	require.NoError(t, mem.SaveUser(ctx, commission.User{
		ID: connectorID, Role: commission.RoleConnector, AgencyID: agencyID,
	}))
	require.NoError(t, mem.SaveUser(ctx, commission.User{
		ID: agencyID, Role: commission.RoleAgency,
	}))
	require.NoError(t, mem.SaveProduct(ctx, commission.Product{
		ID: signageProduct, Category: commission.CategorySignage, Type: commission.TypeSignage,
	}))
	require.NoError(t, mem.SaveSettings(ctx, commission.DefaultSettings()))

	deal, err := eng.CreateDeal(ctx, connectorID, engine.CreateDealInput{ProductID: signageProduct})
	require.NoError(t, err)

	// Force failure after the lock check by breaking the rates.
	broken := commission.DefaultSettings()
	broken.Rates.ConnectorRate = decimal.RequireFromString("0.99")
	require.NoError(t, mem.SaveSettings(ctx, broken))

	_, err = eng.FinalizeDeal(ctx, connectorID, deal.ID, 100_000, "2025-06-30")
	require.ErrorIs(t, err, commission.ErrInvalidRateConfiguration)

	got, err := mem.GetDeal(ctx, deal.ID)
	require.NoError(t, err)
	assert.False(t, got.Locked, "failed finalize must not lock the deal")

	txs, err := mem.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

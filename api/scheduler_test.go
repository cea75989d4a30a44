package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianahumada1/Leal/loyalty"
)

func TestScheduler_RunNowCorrectsDrift(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()
	a.grant(customer, 2)
	require.NoError(t, a.svc.Store.SetBalance(ctx, loyalty.UserBalance{UserID: customer, CurrentStamps: 0}))

	rs := NewReconciliationScheduler(a.svc.Balances, a.handler.Metrics, "@every 1h")
	report, err := rs.RunNow(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	require.Len(t, report.Corrected, 1)
	assert.Equal(t, 2, a.stamps(customer))

	entries, err := a.svc.Store.ListAudit(ctx, loyalty.AuditFilter{Actions: []loyalty.AuditAction{loyalty.AuditBalanceCorrected}})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	rec := a.do(http.MethodGet, "/metrics", "", nil)
	assert.Contains(t, rec.Body.String(), "leal_balance_corrections_total 1")
}

func TestScheduler_StartStop(t *testing.T) {
	a := newTestAPI(t)
	rs := NewReconciliationScheduler(a.svc.Balances, nil, "@every 1h")
	assert.True(t, rs.NextRun().IsZero())

	require.NoError(t, rs.Start(context.Background()))
	next := rs.NextRun()
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, time.Minute)
	rs.Stop()
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	a := newTestAPI(t)
	rs := NewReconciliationScheduler(a.svc.Balances, nil, "whenever")
	assert.Error(t, rs.Start(context.Background()))
}

func TestSeedCatalog_Idempotent(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/admin/seed", admin, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, data[[]RewardDTO](t, rec), len(DemoRewards))

	rec = a.do(http.MethodPost, "/api/admin/seed", admin, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, data[[]RewardDTO](t, rec))

	// The inactive demo reward stays out of the public catalog.
	public := decode[[]RewardDTO](t, a.do(http.MethodGet, "/api/rewards", "", nil))
	assert.Len(t, public, len(DemoRewards)-1)
	assert.Equal(t, "Free Coffee", public[0].Name)
}

package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/points"
)

func TestLedgerAuditor_RunNow(t *testing.T) {
	// GIVEN: Two clients with engine-made history
	ctx := context.Background()
	s := newTestServer(t)
	shop := s.createBusiness("Alpha Cafe", false, "")
	ana := s.createClient(shop.ID, "Ana")
	ben := s.createClient(shop.ID, "Ben")
	require.Equal(t, http.StatusOK, s.adjust(s.admin, ana.ID, 30).Code)
	require.Equal(t, http.StatusOK, s.adjust(s.admin, ana.ID, -5).Code)
	require.Equal(t, http.StatusOK, s.adjust(s.admin, ben.ID, 12).Code)

	// WHEN: Auditing
	report, err := s.h.Auditor.RunNow(ctx)

	// THEN: Clean
	require.NoError(t, err)
	assert.Equal(t, 2, report.Clients)
	assert.Equal(t, 3, report.Entries)
	assert.Empty(t, report.Drifts)

	// WHEN: A balance is written around the engine
	require.NoError(t, s.h.Store.SetClientPoints(ctx, points.ClientID(ben.ID), 500))
	report, err = s.h.Auditor.RunNow(ctx)

	// THEN: The drift is reported, not repaired
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, points.ClientID(ben.ID), report.Drifts[0].ClientID)
	assert.Equal(t, int64(12), report.Drifts[0].LedgerTail)

	c, err := s.h.Store.GetClient(ctx, points.ClientID(ben.ID))
	require.NoError(t, err)
	assert.Equal(t, int64(500), c.Points)
}

func TestLedgerAudit_Endpoints(t *testing.T) {
	s := newTestServer(t)
	shop := s.createBusiness("Alpha Cafe", false, "")
	ana := s.createClient(shop.ID, "Ana")
	require.Equal(t, http.StatusOK, s.adjust(s.admin, ana.ID, 3).Code)

	// No run yet
	rec := s.do(http.MethodGet, "/api/admin/ledger-audit", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())

	rec = s.do(http.MethodPost, "/api/admin/ledger-audit", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[AuditReportDTO](t, rec)
	assert.Equal(t, 1, report.Clients)
	assert.NotNil(t, report.Drifts)

	rec = s.do(http.MethodGet, "/api/admin/ledger-audit", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[AuditReportDTO](t, rec).Entries)

	rec = s.do(http.MethodPost, "/api/admin/ledger-audit", s.operatorToken(shop.ID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLedgerAuditor_StartStop(t *testing.T) {
	s := newTestServer(t)
	a := s.h.Auditor
	a.CheckInterval = 10 * time.Millisecond

	a.Start()
	a.Start() // second start is a no-op
	require.Eventually(t, func() bool { return a.LastReport() != nil }, time.Second, 5*time.Millisecond)
	a.Stop()
	a.Stop()

	// Restart after stop
	a.Start()
	a.Stop()

	disabled := NewLedgerAuditor(s.h.Store, nil)
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()
	assert.Nil(t, disabled.LastReport())
}

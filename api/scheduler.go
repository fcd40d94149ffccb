/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Periodically verifies that every client's ledger explains its balance:
  each entry satisfies after = before + points, consecutive entries chain
  (before = previous after), and the latest after equals Client.Points
  (0 when the client has no entries). Drift is logged, counted in
  metrics and kept in the last report for the admin endpoint.

  The audit never repairs anything. A drift means something wrote around
  the engine and needs a human.

DESIGN:
  - One background goroutine with a ticker (CheckInterval)
  - Each client is audited inside WithTx, so an in-flight operation
    can not make a healthy client look drifted
  - The last report is kept in memory

CONFIGURATION:
  - CheckInterval: audit.interval (default 1 hour)
  - Enabled: audit.enabled

USAGE:
  auditor := NewLedgerAuditor(store, logger)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - points/audit.go: AuditClient
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/warp/loyalty-engine/metrics"
	"github.com/warp/loyalty-engine/points"
	"go.uber.org/zap"
)

// AuditStore is what the auditor reads.
type AuditStore interface {
	points.TxStore
	AllClients(ctx context.Context) ([]points.Client, error)
}

// AuditReport is the outcome of one audit run.
type AuditReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Clients    int
	Entries    int
	Drifts     []points.Drift
}

// LedgerAuditor runs the ledger audit on a schedule.
type LedgerAuditor struct {
	Store         AuditStore
	Log           *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runMu  sync.Mutex // one run at a time
	lastMu sync.Mutex
	last   *AuditReport
}

// NewLedgerAuditor creates an auditor with a one hour interval.
func NewLedgerAuditor(store AuditStore, log *zap.Logger) *LedgerAuditor {
	if log == nil {
		log = zap.NewNop()
	}
	return &LedgerAuditor{
		Store:         store,
		Log:           log.Named("ledger.audit"),
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the periodic audit.
func (a *LedgerAuditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled {
		a.Log.Info("ledger audit disabled, not starting")
		return
	}
	if a.ticker != nil {
		return
	}

	a.stop = make(chan struct{})
	a.ticker = time.NewTicker(a.CheckInterval)
	a.wg.Add(1)
	go a.run()

	a.Log.Info("ledger audit started", zap.Duration("interval", a.CheckInterval))
}

// Stop stops the periodic audit and waits for a running audit to finish.
func (a *LedgerAuditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker != nil {
		a.ticker.Stop()
		close(a.stop)
		a.wg.Wait()
		a.ticker = nil
		a.Log.Info("ledger audit stopped")
	}
}

func (a *LedgerAuditor) run() {
	defer a.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-a.stop
		cancel()
	}()

	a.RunNow(ctx)
	for {
		select {
		case <-a.ticker.C:
			a.RunNow(ctx)
		case <-a.stop:
			return
		}
	}
}

// RunNow audits every client and returns the report.
func (a *LedgerAuditor) RunNow(ctx context.Context) (AuditReport, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	report := AuditReport{StartedAt: time.Now().UTC()}

	clients, err := a.Store.AllClients(ctx)
	if err != nil {
		metrics.LedgerAuditRuns.WithLabelValues("error").Inc()
		a.Log.Error("ledger audit failed", zap.Error(err))
		return report, err
	}

	for _, c := range clients {
		var (
			drift   *points.Drift
			entries int
		)
		err := a.Store.WithTx(ctx, func(tx points.Store) error {
			current, err := tx.GetClient(ctx, c.ID)
			if err != nil || current == nil {
				// Deleted since listing.
				return err
			}
			drift, entries, err = points.AuditClient(ctx, tx, *current)
			return err
		})
		if err != nil {
			metrics.LedgerAuditRuns.WithLabelValues("error").Inc()
			a.Log.Error("ledger audit failed", zap.String("client_id", string(c.ID)), zap.Error(err))
			return report, err
		}

		report.Clients++
		report.Entries += entries
		if drift != nil {
			report.Drifts = append(report.Drifts, *drift)
			a.Log.Warn("ledger drift detected",
				zap.String("client_id", string(drift.ClientID)),
				zap.String("business_id", string(drift.BusinessID)),
				zap.Int64("balance", drift.Balance),
				zap.Int64("ledger_tail", drift.LedgerTail),
				zap.String("entry_id", string(drift.EntryID)),
				zap.String("reason", drift.Reason))
		}
	}
	report.FinishedAt = time.Now().UTC()

	result := "clean"
	if len(report.Drifts) > 0 {
		result = "drift"
	}
	metrics.LedgerAuditRuns.WithLabelValues(result).Inc()
	metrics.LedgerDrift.Set(float64(len(report.Drifts)))

	a.Log.Info("ledger audit completed",
		zap.Int("clients", report.Clients),
		zap.Int("entries", report.Entries),
		zap.Int("drifts", len(report.Drifts)),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)))

	a.lastMu.Lock()
	a.last = &report
	a.lastMu.Unlock()
	return report, nil
}

// LastReport returns the most recent report, nil before the first run.
func (a *LedgerAuditor) LastReport() *AuditReport {
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	return a.last
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// GetLedgerAudit returns the last audit report.
func (h *Handler) GetLedgerAudit(w http.ResponseWriter, r *http.Request) {
	report := h.Auditor.LastReport()
	if report == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(*report))
}

// RunLedgerAudit runs the audit synchronously.
func (h *Handler) RunLedgerAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Auditor.RunNow(background(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

func toAuditReportDTO(r AuditReport) AuditReportDTO {
	dto := AuditReportDTO{
		StartedAt:  formatTime(r.StartedAt),
		FinishedAt: formatTime(r.FinishedAt),
		Clients:    r.Clients,
		Entries:    r.Entries,
		Drifts:     make([]DriftDTO, len(r.Drifts)),
	}
	for i, d := range r.Drifts {
		dto.Drifts[i] = DriftDTO{
			ClientID:   string(d.ClientID),
			BusinessID: string(d.BusinessID),
			Balance:    d.Balance,
			LedgerTail: d.LedgerTail,
			EntryID:    string(d.EntryID),
			Reason:     d.Reason,
		}
	}
	return dto
}

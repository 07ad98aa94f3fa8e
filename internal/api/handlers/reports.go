package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"

	"brokerdesk/internal/types"
)

// LeadExporter streams every live lead through the callback.
type LeadExporter interface {
	ExportAll(ctx context.Context, fn func(lead *types.Lead) error) error
}

// ReportHandler serves bulk data exports.
type ReportHandler struct {
	leads  LeadExporter
	logger *slog.Logger
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(leads LeadExporter, l *slog.Logger) *ReportHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ReportHandler{leads: leads, logger: l}
}

// RegisterRoutes mounts report routes on the provided chi.Router.
func (h *ReportHandler) RegisterRoutes(r chi.Router) {
	r.Get("/reports/leads/export", h.ExportLeads)
}

// ExportLeads handles GET /v1/reports/leads/export, streaming every live
// lead as gzip-compressed JSON lines. Rows are written as they arrive from
// the cursor, so the export never buffers the full table. Errors after the
// first row surface as a truncated stream; the client detects those via the
// gzip trailer.
func (h *ReportHandler) ExportLeads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Disposition",
		`attachment; filename="leads-`+time.Now().UTC().Format("20060102")+`.jsonl.gz"`)

	gz := gzip.NewWriter(w)
	enc := json.NewEncoder(gz)

	count := 0
	err := h.leads.ExportAll(ctx, func(lead *types.Lead) error {
		if err := enc.Encode(lead); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "lead export aborted", "rows_written", count, "error", err)
		// Headers are already out; closing without the trailer marks the
		// stream as corrupt for the client.
		return
	}

	if err := gz.Close(); err != nil {
		h.logger.ErrorContext(ctx, "failed to finalize export stream", "error", err)
		return
	}
	h.logger.InfoContext(ctx, "lead export completed", "rows_written", count)
}

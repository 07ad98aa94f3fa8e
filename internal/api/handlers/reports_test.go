package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerdesk/internal/types"
)

type mockLeadExporter struct {
	leads []types.Lead
	err   error
}

func (m *mockLeadExporter) ExportAll(ctx context.Context, fn func(lead *types.Lead) error) error {
	for i := range m.leads {
		if err := fn(&m.leads[i]); err != nil {
			return err
		}
	}
	return m.err
}

func reportRouter(h *ReportHandler) chi.Router {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestReportHandler_ExportLeads_StreamsGzipJSONL(t *testing.T) {
	exporter := &mockLeadExporter{leads: []types.Lead{
		{ID: 1, FullName: "Asha Rao", Mobile: "9876543210"},
		{ID: 2, FullName: "Rahul Mehta", Mobile: "9123456780"},
	}}
	handler := NewReportHandler(exporter, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/reports/leads/export", nil)
	rr := httptest.NewRecorder()
	reportRouter(handler).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
	assert.Equal(t, "application/x-ndjson", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), ".jsonl.gz")

	gz, err := gzip.NewReader(rr.Body)
	require.NoError(t, err)
	defer gz.Close()

	var rows []types.Lead
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		var lead types.Lead
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &lead))
		rows = append(rows, lead)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, rows, 2)
	assert.Equal(t, "Asha Rao", rows[0].FullName)
	assert.Equal(t, int64(2), rows[1].ID)
}

func TestReportHandler_ExportLeads_EmptyTable(t *testing.T) {
	handler := NewReportHandler(&mockLeadExporter{}, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/reports/leads/export", nil)
	rr := httptest.NewRecorder()
	reportRouter(handler).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	gz, err := gzip.NewReader(rr.Body)
	require.NoError(t, err)
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	assert.False(t, scanner.Scan())
}

func TestReportHandler_ExportLeads_TruncatesOnCursorError(t *testing.T) {
	exporter := &mockLeadExporter{
		leads: []types.Lead{{ID: 1, FullName: "Asha Rao"}},
		err:   errors.New("connection reset"),
	}
	handler := NewReportHandler(exporter, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/reports/leads/export", nil)
	rr := httptest.NewRecorder()
	reportRouter(handler).ServeHTTP(rr, req)

	// Headers are committed before the failure; the stream ends without the
	// gzip trailer so clients can detect the truncation.
	gz, err := gzip.NewReader(rr.Body)
	if err == nil {
		_, err = io.ReadAll(gz)
	}
	assert.Error(t, err)
}

// Package handlers holds the HTTP route handlers. They stay thin:
// decode, call an engine, encode. All decisions live in the engines.
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/api/middleware"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/archive"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/jobs"
)

const dateLayout = "2006-01-02"

// StatementsHandler accepts pre-parsed statement uploads and enqueues
// their reconciliation.
type StatementsHandler struct {
	archive   archive.Service
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewStatementsHandler creates the statements handler. archiveSvc may
// be nil when no bucket is configured; uploads then skip archival.
func NewStatementsHandler(archiveSvc archive.Service, publisher jobs.Publisher, log zerolog.Logger) *StatementsHandler {
	return &StatementsHandler{
		archive:   archiveSvc,
		publisher: publisher,
		log:       log,
	}
}

type statementRowPayload struct {
	BusinessName     string          `json:"business_name"`
	DealDate         string          `json:"deal_date"`
	ChargedAmountILS decimal.Decimal `json:"charged_amount_ils"`
	OriginalAmount   decimal.Decimal `json:"original_amount,omitempty"`
	OriginalCurrency string          `json:"original_currency,omitempty"`
	ExchangeRateUsed decimal.Decimal `json:"exchange_rate_used,omitempty"`
	CardLast4        string          `json:"card_last4"`
	PaymentType      string          `json:"payment_type,omitempty"`
	InstallmentIndex int             `json:"installment_index,omitempty"`
	InstallmentTotal int             `json:"installment_total,omitempty"`
	TotalPaymentSum  decimal.Decimal `json:"total_payment_sum,omitempty"`
	IsRefund         bool            `json:"is_refund,omitempty"`
}

type uploadRequest struct {
	Filename string `json:"filename"`

	// FileBase64 is the original statement file, archived verbatim.
	FileBase64 string `json:"file_base64,omitempty"`

	Rows []statementRowPayload `json:"rows"`
}

func (p statementRowPayload) toDomain(sourceFile string) (domain.StatementRow, error) {
	dealDate, err := time.Parse(dateLayout, p.DealDate)
	if err != nil {
		return domain.StatementRow{}, fmt.Errorf("deal_date %q: %w", p.DealDate, err)
	}

	paymentType := domain.PaymentType(p.PaymentType)
	if p.PaymentType == "" {
		paymentType = domain.PaymentOneTime
	}

	return domain.StatementRow{
		BusinessName:     p.BusinessName,
		DealDate:         dealDate,
		ChargedAmountILS: p.ChargedAmountILS,
		OriginalAmount:   p.OriginalAmount,
		OriginalCurrency: p.OriginalCurrency,
		ExchangeRateUsed: p.ExchangeRateUsed,
		CardLast4:        p.CardLast4,
		PaymentType:      paymentType,
		InstallmentIndex: p.InstallmentIndex,
		InstallmentTotal: p.InstallmentTotal,
		TotalPaymentSum:  p.TotalPaymentSum,
		IsRefund:         p.IsRefund,
		SourceFile:       sourceFile,
	}, nil
}

// Upload handles POST /api/statements/upload. The statement file is
// archived, the rows go onto the ingest queue, and the caller gets a
// job id to poll.
func (h *StatementsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Filename == "" {
		middleware.WriteError(w, http.StatusBadRequest, "filename is required")
		return
	}
	if len(req.Rows) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "rows are required")
		return
	}

	sourceFile := req.Filename
	var archived *archive.Object
	if req.FileBase64 != "" && h.archive != nil {
		data, err := base64.StdEncoding.DecodeString(req.FileBase64)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "file_base64 is not valid base64")
			return
		}

		archived, err = h.archive.Store(ctx, req.Filename, data)
		if err != nil {
			h.log.Error().Err(err).Str("filename", req.Filename).Msg("Failed to archive statement file")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to archive statement file")
			return
		}
		if archived.AlreadyStored {
			// Same bytes were ingested before; surface it instead of
			// silently re-running the batch.
			middleware.WriteJSON(w, http.StatusConflict, map[string]interface{}{
				"error":   "statement file was already uploaded",
				"archive": archived,
			})
			return
		}
		sourceFile = archived.URI
	}

	rows := make([]domain.StatementRow, 0, len(req.Rows))
	for i, p := range req.Rows {
		row, err := p.toDomain(sourceFile)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("row %d: %v", i+1, err))
			return
		}
		rows = append(rows, row)
	}

	job := &jobs.IngestBatchJob{
		BatchID:    uuid.NewString(),
		SourceFile: req.Filename,
		Rows:       rows,
	}
	if archived != nil {
		job.ArchiveURI = archived.URI
	}

	if err := h.publisher.PublishIngestBatch(ctx, job); err != nil {
		h.log.Error().Err(err).Str("batch_id", job.BatchID).Msg("Failed to enqueue ingest batch")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue ingest batch")
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("batch_id", job.BatchID).
		Int("rows", len(rows)).
		Msg("Ingest batch enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   job.JobID,
		"batch_id": job.BatchID,
		"rows":     len(rows),
		"archive":  archived,
	})
}

// Command ingest reconciles a pre-parsed statement rows file against
// the configured store and prints the per-outcome counts. Useful for
// re-running a batch locally without the API server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/logger"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/recon"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/store"
	storebigquery "github.com/yaronmolho1/Expense-tracker-sub003/internal/store/bigquery"
	storememory "github.com/yaronmolho1/Expense-tracker-sub003/internal/store/memory"
)

const dateLayout = "2006-01-02"

type rowFile struct {
	SourceFile string    `json:"source_file"`
	Rows       []rowJSON `json:"rows"`
}

type rowJSON struct {
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

func main() {
	var (
		file      = flag.String("file", "", "path to the rows JSON file (required)")
		storeKind = flag.String("store", "memory", "persistence backend: memory or bigquery")
		projectID = flag.String("project", os.Getenv("GCP_PROJECT"), "GCP project id for the BigQuery store")
		datasetID = flag.String("dataset", "expenses", "BigQuery dataset")
		logLevel  = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	log := logger.New(*logLevel)

	if *file == "" {
		log.Fatal().Msg("Error: -file is required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Failed to read rows file")
	}

	var parsed rowFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		log.Fatal().Err(err).Msg("Failed to parse rows file")
	}
	if parsed.SourceFile == "" {
		parsed.SourceFile = *file
	}

	rows := make([]domain.StatementRow, 0, len(parsed.Rows))
	for i, r := range parsed.Rows {
		dealDate, err := time.Parse(dateLayout, r.DealDate)
		if err != nil {
			log.Fatal().Err(err).Int("row", i+1).Msg("Invalid deal_date")
		}
		paymentType := domain.PaymentType(r.PaymentType)
		if r.PaymentType == "" {
			paymentType = domain.PaymentOneTime
		}
		rows = append(rows, domain.StatementRow{
			BusinessName:     r.BusinessName,
			DealDate:         dealDate,
			ChargedAmountILS: r.ChargedAmountILS,
			OriginalAmount:   r.OriginalAmount,
			OriginalCurrency: r.OriginalCurrency,
			ExchangeRateUsed: r.ExchangeRateUsed,
			CardLast4:        r.CardLast4,
			PaymentType:      paymentType,
			InstallmentIndex: r.InstallmentIndex,
			InstallmentTotal: r.InstallmentTotal,
			TotalPaymentSum:  r.TotalPaymentSum,
			IsRefund:         r.IsRefund,
			SourceFile:       parsed.SourceFile,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	var st store.Store
	switch *storeKind {
	case "memory":
		st = storememory.NewStore()
		log.Warn().Msg("Using in-memory store - results are not persisted")
	case "bigquery":
		if *projectID == "" {
			log.Fatal().Msg("BigQuery store requires -project or GCP_PROJECT")
		}
		bqStore, err := storebigquery.NewStore(ctx, *projectID, *datasetID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery store")
		}
		defer bqStore.Close()
		st = bqStore
	default:
		log.Fatal().Str("store", *storeKind).Msg("Unknown store kind")
	}

	engine := recon.New(st, log)

	result, err := engine.IngestBatch(ctx, "", rows)
	if err != nil {
		log.Fatal().Err(err).Msg("Batch reconciliation failed")
	}

	fmt.Printf("Batch %s: %d rows\n", result.BatchID, len(result.Results))
	fmt.Printf("  new:          %d\n", result.New)
	fmt.Printf("  duplicates:   %d\n", result.Duplicates)
	fmt.Printf("  group_joined: %d\n", result.GroupJoined)
	fmt.Printf("  completed:    %d\n", result.Completed)
	fmt.Printf("  ambiguous:    %d\n", result.Ambiguous)
}

package services

import (
	"context"
	"net/http"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"paygate/internal/db"
	"paygate/internal/metrics"
	"paygate/internal/provider"
)

const (
	ReceiptApplied    = "applied"
	ReceiptDuplicate  = "duplicate"
	ReceiptIgnored    = "ignored"
	ReceiptUnresolved = "unresolved"
)

type Receipt struct {
	Status string `json:"status"`
}

// PaymentApplier folds a verified provider event into the ledger inside the
// pipeline's transaction.
type PaymentApplier interface {
	ApplyEvent(ctx context.Context, tx *sqlx.Tx, providerName string, ev provider.Event) (*DepositApplied, error)
	Fanout(applied *DepositApplied)
}

// WebhookService is the ingestion pipeline: verify the signature, reduce the
// payload to a canonical event, claim the dedup key, and apply the event to
// the ledger in one transaction. Everything past the signature check is
// acknowledged 2xx; a failed application is filed for reconciliation rather
// than bounced back for a retry storm.
type WebhookService struct {
	runner   db.TxRunner
	adapters Adapters
	events   WebhookEventStore
	payments PaymentApplier
	log      *zap.Logger
}

func NewWebhookService(runner db.TxRunner, adapters Adapters, events WebhookEventStore, payments PaymentApplier, log *zap.Logger) *WebhookService {
	return &WebhookService{
		runner:   runner,
		adapters: adapters,
		events:   events,
		payments: payments,
		log:      log,
	}
}

func (s *WebhookService) Process(ctx context.Context, providerName string, header http.Header, rawBody []byte) (Receipt, error) {
	adapter, err := s.adapters.Get(providerName)
	if err != nil {
		return Receipt{}, err
	}
	if !adapter.VerifyWebhookSignature(header, rawBody) {
		metrics.WebhooksReceived.WithLabelValues(providerName, "rejected").Inc()
		return Receipt{}, ErrInvalidSignature
	}

	ev, err := adapter.ParseWebhookEvent(rawBody)
	if err != nil {
		// Verified but unparseable. Ack so the provider stops retrying a
		// payload we will never understand, and leave a trace.
		metrics.WebhooksReceived.WithLabelValues(providerName, ReceiptIgnored).Inc()
		s.log.Error("unparseable webhook payload", zap.String("provider", providerName), zap.Error(err))
		return Receipt{Status: ReceiptIgnored}, nil
	}
	eventID := ev.ProviderEventID
	if eventID == "" {
		eventID = ev.ExternalReference + ":" + string(ev.Outcome)
	}

	var applied *DepositApplied
	duplicate := false
	err = s.runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		claimed, err := s.events.Reserve(ctx, tx, providerName, eventID)
		if err != nil {
			return err
		}
		if !claimed {
			duplicate = true
			return nil
		}
		applied, err = s.payments.ApplyEvent(ctx, tx, providerName, ev)
		return err
	})
	if duplicate {
		metrics.WebhooksReceived.WithLabelValues(providerName, ReceiptDuplicate).Inc()
		return Receipt{Status: ReceiptDuplicate}, nil
	}
	if err != nil {
		// The application rolled back. Record the event for manual
		// reconciliation; this write runs outside any transaction so it
		// survives the rollback.
		if recErr := s.events.RecordUnresolved(ctx, providerName, eventID); recErr != nil {
			s.log.Error("recording unresolved webhook failed",
				zap.String("provider", providerName),
				zap.String("event_id", eventID),
				zap.Error(recErr))
		}
		metrics.WebhooksReceived.WithLabelValues(providerName, ReceiptUnresolved).Inc()
		metrics.UnresolvedWebhooks.Inc()
		s.log.Error("webhook application failed",
			zap.String("provider", providerName),
			zap.String("event_id", eventID),
			zap.String("reference", ev.ExternalReference),
			zap.Error(err))
		return Receipt{Status: ReceiptUnresolved}, nil
	}

	metrics.WebhooksReceived.WithLabelValues(providerName, ReceiptApplied).Inc()
	s.payments.Fanout(applied)
	return Receipt{Status: ReceiptApplied}, nil
}

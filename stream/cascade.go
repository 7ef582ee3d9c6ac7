// Package stream provides the DynamoDB Streams handler that cascades
// soft deletes down the key hierarchy.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/lattice/dynamo"
)

// Store is the slice of the dynamo driver the handler needs.
type Store interface {
	Descendants(ctx context.Context, pk, pathPrefix string) ([]dynamo.ItemRef, error)
	Expire(ctx context.Context, ref dynamo.ItemRef, ttl int64) error
}

// Handler processes DynamoDB stream events: when an entity is
// soft-deleted, every entity beneath it in the key path hierarchy
// receives the same TTL. Each of those writes produces its own stream
// record, so deep hierarchies cascade level by level and the whole
// process is idempotent under Lambda retries.
type Handler struct {
	store  Store
	logger *slog.Logger
}

// NewHandler creates a stream handler.
func NewHandler(s Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: s, logger: logger}
}

// HandleCascadeDelete is the Lambda entrypoint for the entities
// table's stream.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	// Only MODIFY events where the TTL was newly set start a cascade.
	if record.EventName != "MODIFY" {
		return nil
	}
	oldTTL := getNumberAttr(record.Change.OldImage, "ttl")
	newTTL := getNumberAttr(record.Change.NewImage, "ttl")
	if oldTTL != 0 || newTTL == 0 {
		return nil
	}

	pk := getStringAttr(record.Change.Keys, "pk")
	sk := getStringAttr(record.Change.Keys, "sk")
	if pk == "" || sk == "" {
		return fmt.Errorf("record %s has no item key", record.EventID)
	}

	h.logger.Info("cascading delete",
		"pk", pk,
		"sk", sk,
		"ttl", newTTL,
	)

	// The deleted entity's encoded path is a prefix of every
	// descendant's sort key.
	refs, err := h.store.Descendants(ctx, pk, sk)
	if err != nil {
		return fmt.Errorf("query descendants: %w", err)
	}

	expired := 0
	for _, ref := range refs {
		if ref.SK == sk {
			continue
		}
		if err := h.store.Expire(ctx, ref, newTTL); err != nil {
			h.logger.Warn("failed to expire descendant",
				"sk", ref.SK,
				"error", err,
			)
			continue // Idempotent, the retry picks it up
		}
		expired++
	}

	h.logger.Info("cascade completed",
		"sk", sk,
		"descendants", len(refs)-1,
		"expired", expired,
	)
	return nil
}

// getStringAttr extracts a string attribute from a stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeNumber {
		n, _ := strconv.ParseInt(v.Number(), 10, 64)
		return n
	}
	return 0
}

package service

import (
	"context"

	"github.com/loungehq/curator/internal/service/brightdata"
)

// CollectionVendor is the slice of the scraping vendor the pipeline depends on.
// Jobs run out-of-band on the vendor side; Submit returns an opaque snapshot ID
// and the result is polled and downloaded later.
type CollectionVendor interface {
	Submit(ctx context.Context, urls []string) (string, error)
	GetStatus(ctx context.Context, snapshotID string) (string, error)
	FetchResult(ctx context.Context, snapshotID string) ([]brightdata.Record, error)
	ListSnapshots(ctx context.Context) ([]brightdata.RemoteSnapshot, error)
}

// Classifier is the text-classification capability used for relevancy scoring
// and correction analysis. Output is free text and never trusted to be valid
// structured data.
type Classifier interface {
	Classify(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

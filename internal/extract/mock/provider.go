package mock

import (
	"context"

	"github.com/driftai/driftd/pkg/models"
)

// MockExtractor satisfies models.Extractor for testing.
type MockExtractor struct {
	Name_       string
	ExtractFunc func(ctx context.Context, doc models.Document) (models.ExtractionResult, error)
}

func (m *MockExtractor) Name() string { return m.Name_ }

func (m *MockExtractor) Extract(ctx context.Context, doc models.Document) (models.ExtractionResult, error) {
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, doc)
	}
	return models.ExtractionResult{}, nil
}

// NewExtractor returns a MockExtractor with sensible default responses.
func NewExtractor() *MockExtractor {
	return &MockExtractor{
		Name_: "mock",
		ExtractFunc: func(_ context.Context, doc models.Document) (models.ExtractionResult, error) {
			return models.ExtractionResult{
				PrimaryVendorName:             "Mock Vendor Inc",
				DBADisplayName:                "Mock Vendor",
				EffectiveDate:                 "2025-01-01",
				RenewalEndDate:                "2025-12-31",
				Category:                      "software",
				ContractReconciliationSummary: "Simulated terms extracted from " + doc.Filename,
			}, nil
		},
	}
}

// NewFailingExtractor returns a MockExtractor that always returns the given error.
func NewFailingExtractor(err error) *MockExtractor {
	return &MockExtractor{
		Name_: "mock-failing",
		ExtractFunc: func(_ context.Context, _ models.Document) (models.ExtractionResult, error) {
			return models.ExtractionResult{}, err
		},
	}
}

// NewBlockingExtractor returns a MockExtractor that blocks until context is cancelled.
func NewBlockingExtractor() *MockExtractor {
	return &MockExtractor{
		Name_: "mock-blocking",
		ExtractFunc: func(ctx context.Context, _ models.Document) (models.ExtractionResult, error) {
			<-ctx.Done()
			return models.ExtractionResult{}, ctx.Err()
		},
	}
}

// Compile-time check that MockExtractor implements Extractor.
var _ models.Extractor = (*MockExtractor)(nil)

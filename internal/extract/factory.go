package extract

import (
	"fmt"

	"github.com/driftai/driftd/internal/config"
	"github.com/driftai/driftd/internal/extract/docai"
	"github.com/driftai/driftd/internal/extract/mock"
	"github.com/driftai/driftd/pkg/models"
)

// NewExtractor constructs the appropriate extraction provider based on config.
// Called once at server startup.
func NewExtractor(cfg config.ExtractConfig) (models.Extractor, error) {
	switch cfg.Provider {
	case "docai":
		return docai.NewProvider(cfg.DocAI), nil
	case "mock":
		return mock.NewExtractor(), nil
	default:
		return nil, fmt.Errorf("unknown extraction provider %q: must be one of docai, mock", cfg.Provider)
	}
}

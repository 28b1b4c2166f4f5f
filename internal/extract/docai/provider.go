// Package docai talks to the hosted document-extraction service. A contract
// file goes up as multipart form data; the answer is a JSON payload with the
// extracted fields, validated against a schema before anything trusts it.
package docai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/driftai/driftd/internal/config"
	"github.com/driftai/driftd/pkg/models"
)

// Provider implements models.Extractor against the DocAI HTTP API.
type Provider struct {
	cfg        config.DocAIConfig
	httpClient *http.Client
}

func NewProvider(cfg config.DocAIConfig) *Provider {
	return &Provider{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (p *Provider) Name() string { return "docai" }

// extractResponse is the provider's wire format. Fields mirror the service's
// documented payload; anything extra is ignored.
type extractResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

func (p *Provider) Extract(ctx context.Context, doc models.Document) (models.ExtractionResult, error) {
	f, err := os.Open(doc.Path)
	if err != nil {
		return models.ExtractionResult{}, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(doc.Filename))
	if err != nil {
		return models.ExtractionResult{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return models.ExtractionResult{}, fmt.Errorf("copy document: %w", err)
	}
	if err := mw.WriteField("model", p.cfg.Model); err != nil {
		return models.ExtractionResult{}, fmt.Errorf("write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return models.ExtractionResult{}, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/extract/contract", &buf)
	if err != nil {
		return models.ExtractionResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return models.ExtractionResult{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.ExtractionResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.ExtractionResult{}, fmt.Errorf("docai returned status %d: %s", resp.StatusCode, body)
	}

	var wire extractResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return models.ExtractionResult{}, fmt.Errorf("parse response: %w", err)
	}
	if wire.Code != 0 {
		return models.ExtractionResult{}, fmt.Errorf("docai API error: %s", wire.Message)
	}

	// The payload crosses a trust boundary; check shape before decoding.
	if err := ValidatePayload(wire.Data); err != nil {
		return models.ExtractionResult{}, err
	}

	var result models.ExtractionResult
	if err := json.Unmarshal(wire.Data, &result); err != nil {
		return models.ExtractionResult{}, fmt.Errorf("decode extraction payload: %w", err)
	}
	return result, nil
}

var _ models.Extractor = (*Provider)(nil)

// Package workflow is the typed client for the driftd document-processing
// API: upload a contract, poll the extraction job, review and confirm the
// extracted fields, and stream report exports. It owns all client-side
// timing: the transport retry/backoff, the job poll loop, and the
// name-uniqueness debounce.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftai/driftd/pkg/models"
	"github.com/driftai/driftd/pkg/upload"
)

const (
	defaultTransportTimeout = 30 * time.Second
	defaultRetryBase        = 1 * time.Second
	defaultRetryCap         = 10 * time.Second
	defaultMaxAttempts      = 3
)

// Client talks to the driftd API. Every request carries a generated
// X-Request-ID and a hard 30s transport deadline. Idempotent GETs are
// retried on 5xx/network failure with exponential backoff (base 1s,
// doubling, capped at 10s, max 3 attempts); nothing else is auto-retried.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	retryBase   time.Duration
	retryCap    time.Duration
	maxAttempts int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client (tests, custom
// transports). The caller keeps responsibility for its timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy overrides the GET retry policy.
func WithRetryPolicy(base, cap time.Duration, maxAttempts int) ClientOption {
	return func(c *Client) {
		c.retryBase = base
		c.retryCap = cap
		c.maxAttempts = maxAttempts
	}
}

// NewClient creates a Client for the given base URL (e.g.
// "https://api.example.com/api/v1") and API key.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: defaultTransportTimeout},
		retryBase:   defaultRetryBase,
		retryCap:    defaultRetryCap,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// do sends the request, retrying GETs per the retry policy. The response
// body is open on return; callers must close it.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	attempts := 1
	if req.Method == http.MethodGet {
		attempts = c.maxAttempts
	}

	var lastErr error
	backoff := c.retryBase
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-req.Context().Done():
				return nil, classifyError(req.Context().Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.retryCap {
				backoff = c.retryCap
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = classifyError(err)
			if !retryable(0, err) {
				return nil, lastErr
			}
			continue
		}
		if retryable(resp.StatusCode, nil) && i < attempts-1 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// doJSON issues a JSON request and decodes the response envelope's data
// field into out (when out is non-nil). Error envelopes become *APIError.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(req)

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp, out)
}

func decodeEnvelope(resp *http.Response, out any) error {
	var env struct {
		Data  json.RawMessage `json:"data"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode}
		}
		return fmt.Errorf("decoding response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding response data: %w", err)
		}
	}
	return nil
}

// --- uploads ---

type submitResponse struct {
	JobID string `json:"job_id"`
}

// UploadContract submits a document for vendor-creation extraction and
// returns the server-assigned job id.
func (c *Client) UploadContract(ctx context.Context, file io.Reader, info upload.FileInfo) (string, error) {
	return c.uploadMultipart(ctx, "/vendors/create-from-contract/upload", file, info)
}

// ReplaceContract submits a replacement document for an existing vendor.
func (c *Client) ReplaceContract(ctx context.Context, vendorID string, file io.Reader, info upload.FileInfo) (string, error) {
	return c.uploadMultipart(ctx, "/vendors/"+url.PathEscape(vendorID)+"/replace-contract", file, info)
}

func (c *Client) uploadMultipart(ctx context.Context, path string, file io.Reader, info upload.FileInfo) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, info.Name))
	hdr.Set("Content-Type", info.ContentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.setHeaders(req)

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var sr submitResponse
	if err := decodeEnvelope(resp, &sr); err != nil {
		return "", err
	}
	return sr.JobID, nil
}

// --- jobs ---

// GetJob fetches the current state of an extraction job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := c.doJSON(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// --- confirmation ---

// ConfirmRequest carries the reviewed extraction fields plus the job they
// came from. The reconciliation summary is never part of the editable
// payload; the server reads it from the job result.
type ConfirmRequest struct {
	PrimaryVendorName string `json:"primary_vendor_name"`
	DBADisplayName    string `json:"dba_display_name,omitempty"`
	EffectiveDate     string `json:"effective_date"`
	RenewalEndDate    string `json:"renewal_end_date,omitempty"`
	Category          string `json:"category,omitempty"`
	JobID             string `json:"job_id"`
}

// ConfirmResponse identifies the vendor and contract materialized by a
// confirm call. On replace, ContractID is the id of the new contract row.
type ConfirmResponse struct {
	VendorID   string `json:"vendor_id"`
	ContractID string `json:"contract_id"`
}

// ConfirmCreate materializes a new vendor and contract from a completed job.
func (c *Client) ConfirmCreate(ctx context.Context, req ConfirmRequest) (*ConfirmResponse, error) {
	var out ConfirmResponse
	if err := c.doJSON(ctx, http.MethodPost, "/vendors/create-from-contract/confirm", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmReplace swaps an existing vendor's active contract for the one
// extracted by the given job.
func (c *Client) ConfirmReplace(ctx context.Context, vendorID string, req ConfirmRequest) (*ConfirmResponse, error) {
	var out ConfirmResponse
	path := "/vendors/" + url.PathEscape(vendorID) + "/replace-contract/confirm"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- name uniqueness ---

// NameCheckResult is the server's answer to a vendor-name uniqueness probe.
type NameCheckResult struct {
	IsUnique         bool   `json:"is_unique"`
	ExistingVendorID string `json:"existing_vendor_id,omitempty"`
}

// CheckName asks whether a vendor name is free within the caller's tenant.
func (c *Client) CheckName(ctx context.Context, name string) (*NameCheckResult, error) {
	body := struct {
		Name string `json:"name"`
	}{Name: name}
	var out NameCheckResult
	if err := c.doJSON(ctx, http.MethodPost, "/vendors/check-name", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

package doclingserve

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
)

// Client talks to a docling-serve HTTP endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		// No client-level timeout: each conversion carries its own
		// context deadline set by the scheduler.
		http: &http.Client{},
	}
}

type convertResponse struct {
	Status   string `json:"status"`
	Document struct {
		MDContent string `json:"md_content"`
	} `json:"document"`
	Errors []struct {
		Message string `json:"error_message"`
	} `json:"errors"`
}

type convertParams struct {
	Pipeline          string `json:"pipeline"`
	OCREnabled        bool   `json:"do_ocr"`
	OCRLanguage       string `json:"ocr_lang,omitempty"`
	TableMode         string `json:"table_mode,omitempty"`
	PDFBackend        string `json:"pdf_backend,omitempty"`
	EnableEnrichments bool   `json:"do_enrichments,omitempty"`
	ASRModel          string `json:"asr_model,omitempty"`
}

// ConvertFile uploads the file and returns the converted markdown. Non-2xx
// responses come back as *httpError for the engine to classify.
func (c *Client) ConvertFile(ctx context.Context, path string, params convertParams) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	if err := mw.WriteField("parameters", string(paramsJSON)); err != nil {
		return "", fmt.Errorf("write params field: %w", err)
	}

	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/convert/file", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("convert call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &httpError{status: resp.StatusCode, body: truncate(string(respBody), 512)}
	}

	var out convertResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if out.Status != "success" {
		msg := "conversion reported failure"
		if len(out.Errors) > 0 {
			msg = out.Errors[0].Message
		}
		return "", &httpError{status: http.StatusOK, body: msg, appFailure: true}
	}
	return out.Document.MDContent, nil
}

// Health probes the /health endpoint.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type httpError struct {
	status     int
	body       string
	appFailure bool
}

func (e *httpError) Error() string {
	if e.appFailure {
		return e.body
	}
	return fmt.Sprintf("docling-serve returned %d: %s", e.status, e.body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

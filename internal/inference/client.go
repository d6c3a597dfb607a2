// Package inference provides the HTTP client for the OCR inference
// service.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cin-dennis/ocr-engine/internal/domain"
	"github.com/cin-dennis/ocr-engine/internal/observability"
)

// DefaultTimeout bounds a single inference call.
const DefaultTimeout = 300 * time.Second

// Client handles communication with the OCR inference service. One call
// submits one page image and returns the extracted text.
type Client struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	logger     *observability.Logger
}

// Options holds client configuration.
type Options struct {
	URL     string
	Timeout time.Duration
}

// NewClient creates a new inference client.
func NewClient(opts Options, logger *observability.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		url:     opts.URL,
		timeout: timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.WithComponent("inference"),
	}
}

// response is the inference service payload. A success-shaped transport
// response may still carry an application-level error pair.
type response struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Result struct {
		Blocks []struct {
			Lines []struct {
				Text string `json:"text"`
			} `json:"lines"`
		} `json:"blocks"`
	} `json:"result"`
}

// Submit sends one page image and returns the normalized extracted text.
// An empty string is a valid result for a blank page. Every failure mode,
// including the per-call timeout, surfaces as an inference error.
func (c *Client) Submit(ctx context.Context, image []byte, filename string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, contentType, err := buildMultipartBody(image, filename)
	if err != nil {
		return "", domain.InferenceError("failed to build request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return "", domain.InferenceError("failed to build request", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.InferenceError("inference request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", domain.InferenceError(
			fmt.Sprintf("inference service returned status %d: %s", resp.StatusCode, string(data)), nil)
	}

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", domain.InferenceError("malformed inference response", err)
	}

	if parsed.Error != nil {
		return "", domain.InferenceError(
			fmt.Sprintf("inference service error %s: %s", parsed.Error.Code, parsed.Error.Message), nil)
	}

	text := normalizeText(&parsed)
	c.logger.Debug().
		Str("filename", filename).
		Dur("elapsed", time.Since(start)).
		Int("chars", len(text)).
		Msg("inference call completed")

	return text, nil
}

// buildMultipartBody wraps the page image in a multipart form under the
// "file" field.
func buildMultipartBody(image []byte, filename string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return body, writer.FormDataContentType(), nil
}

// normalizeText concatenates every line entry's text in source order,
// joined by line breaks. No entries normalizes to the empty string.
func normalizeText(resp *response) string {
	var lines []string
	for _, block := range resp.Result.Blocks {
		for _, line := range block.Lines {
			lines = append(lines, line.Text)
		}
	}
	return strings.Join(lines, "\n")
}

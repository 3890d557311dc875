// Package printvendor submits rendered labels to a cloud print-queue API.
package printvendor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/orrn/labelrelay/internal/core"
)

const (
	DefaultBaseURL = "https://api.printnode.com"
	defaultSource  = "labelrelay"
	maxErrorBody   = 512
)

type AuthMode string

const (
	AuthBasic  AuthMode = "basic"
	AuthBearer AuthMode = "bearer"
)

type Config struct {
	BaseURL   string
	APIKey    string
	PrinterID string
	Auth      AuthMode
	Timeout   time.Duration
}

type PrintJobRequest struct {
	PrinterID   any    `json:"printerId"`
	Title       string `json:"title"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
	Source      string `json:"source"`
}

type Client struct {
	baseURL    string
	apiKey     string
	printerID  any
	auth       AuthMode
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Auth == "" {
		cfg.Auth = AuthBasic
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.Auth == AuthBearer {
		httpClient.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"}),
			Base:   http.DefaultTransport,
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		printerID:  printerIDValue(cfg.PrinterID),
		auth:       cfg.Auth,
		httpClient: httpClient,
	}
}

// The vendor expects a numeric printer id; anything else is sent verbatim.
func printerIDValue(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

// Submit sends one PDF label and returns the vendor's job id. Every failure
// is a *core.SubmissionError.
func (c *Client) Submit(ctx context.Context, pdf []byte, title string) (string, error) {
	body, err := json.Marshal(PrintJobRequest{
		PrinterID:   c.printerID,
		Title:       title,
		ContentType: "pdf_base64",
		Content:     base64.StdEncoding.EncodeToString(pdf),
		Source:      defaultSource,
	})
	if err != nil {
		return "", &core.SubmissionError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/printjobs", bytes.NewReader(body))
	if err != nil {
		return "", &core.SubmissionError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth == AuthBasic {
		req.SetBasicAuth(c.apiKey, "")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &core.SubmissionError{Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &core.SubmissionError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &core.SubmissionError{StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	jobID, err := parseJobID(respBody)
	if err != nil {
		return "", &core.SubmissionError{StatusCode: resp.StatusCode, Err: err}
	}
	return jobID, nil
}

// parseJobID accepts a bare number, a JSON string or an object with an id.
func parseJobID(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", errors.New("empty response body")
	}

	if trimmed[0] == '{' {
		var obj struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return "", fmt.Errorf("parse response: %w", err)
		}
		if len(obj.ID) == 0 {
			return "", errors.New("response has no job id")
		}
		trimmed = bytes.TrimSpace(obj.ID)
	}

	id := strings.Trim(string(trimmed), `"`)
	if id == "" || id == "null" {
		return "", errors.New("response has no job id")
	}
	return id, nil
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var ErrRendererNotConfigured = errors.New("screenshot service is not configured")

// ReportDocument is the already compiled report handed to renderers that draw it themselves
type ReportDocument struct {
	Title    string
	Subtitle string
	Rows     []ReportRow
	Notes    []string
}

// ReportRow is one label/value line of a ReportDocument
type ReportRow struct {
	Label string
	Value string
}

// RenderRequest describes one snapshot render
type RenderRequest struct {
	PrintURL string
	Document ReportDocument
}

// RenderedReport holds the binary artifacts of a snapshot
type RenderedReport struct {
	PDF []byte
	PNG []byte
}

// ReportRenderer turns a report into PDF and PNG artifacts
type ReportRenderer interface {
	Render(ctx context.Context, req RenderRequest) (*RenderedReport, error)
}

// ScreenshotClientConfig points at a headless-browser rendering service
type ScreenshotClientConfig struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	NavTimeout      time.Duration
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// ScreenshotClient renders the print route through a remote headless-browser API
type ScreenshotClient struct {
	cfg    ScreenshotClientConfig
	client *http.Client
	logger *zap.Logger
}

func NewScreenshotClient(cfg ScreenshotClientConfig, logger *zap.Logger) *ScreenshotClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ScreenshotClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type gotoOptions struct {
	WaitUntil string `json:"waitUntil"`
	Timeout   int64  `json:"timeout"`
}

type pdfMargin struct {
	Top    string `json:"top"`
	Right  string `json:"right"`
	Bottom string `json:"bottom"`
	Left   string `json:"left"`
}

type pdfOptions struct {
	Format          string    `json:"format"`
	PrintBackground bool      `json:"printBackground"`
	Margin          pdfMargin `json:"margin"`
}

type screenshotOptions struct {
	Type     string `json:"type"`
	FullPage bool   `json:"fullPage"`
}

type renderPayload struct {
	URL         string             `json:"url"`
	Viewport    viewport           `json:"viewport"`
	GotoOptions gotoOptions        `json:"gotoOptions"`
	PDF         *pdfOptions        `json:"options,omitempty"`
	Screenshot  *screenshotOptions `json:"screenshotOptions,omitempty"`
}

// Render produces the PDF (A4, 1cm margins) and a full-page PNG of the print URL
func (c *ScreenshotClient) Render(ctx context.Context, req RenderRequest) (*RenderedReport, error) {
	if c.cfg.BaseURL == "" || c.cfg.Token == "" {
		return nil, ErrRendererNotConfigured
	}
	if req.PrintURL == "" {
		return nil, fmt.Errorf("print url is required")
	}

	base := renderPayload{
		URL:         req.PrintURL,
		Viewport:    viewport{Width: 1200, Height: 800},
		GotoOptions: gotoOptions{WaitUntil: "networkidle0", Timeout: c.cfg.NavTimeout.Milliseconds()},
	}

	pdfReq := base
	pdfReq.PDF = &pdfOptions{
		Format:          "A4",
		PrintBackground: true,
		Margin:          pdfMargin{Top: "1cm", Right: "1cm", Bottom: "1cm", Left: "1cm"},
	}
	pdf, err := c.post(ctx, "/pdf", pdfReq)
	if err != nil {
		return nil, fmt.Errorf("pdf render failed: %w", err)
	}

	pngReq := base
	pngReq.Screenshot = &screenshotOptions{Type: "png", FullPage: true}
	png, err := c.post(ctx, "/screenshot", pngReq)
	if err != nil {
		return nil, fmt.Errorf("png render failed: %w", err)
	}

	return &RenderedReport{PDF: pdf, PNG: png}, nil
}

func (c *ScreenshotClient) post(ctx context.Context, endpoint string, payload renderPayload) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode render request: %w", err)
	}
	url := c.cfg.BaseURL + endpoint

	var out []byte
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)

		resp, err := c.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("failed to perform request: %w", err)
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				c.logger.Warn("failed to close response body", zap.Error(err), zap.String("url", url))
			}
		}()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("screenshot service returned %d", resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("screenshot service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
		}

		out, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if len(out) == 0 {
			return backoff.Permanent(errors.New("screenshot service returned an empty body"))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxInterval = 10 * c.cfg.InitialInterval
	b.MaxElapsedTime = c.cfg.MaxElapsedTime
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Screenshot request failed, retrying",
			zap.String("url", url),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return out, nil
}

// Package captcha delegates challenge solving to a remote service and feeds
// the resulting token back to the caller for injection. Solving is
// single-attempt: one remote failure or timeout surfaces as
// schemas.ErrCaptchaService, never an internal retry.
package captcha

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/veylan/mimic/api/schemas"
	"github.com/veylan/mimic/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Solver is the narrow capability surface of the remote solving service.
type Solver interface {
	SolveImage(ctx context.Context, image []byte) (string, error)
	SolveRecaptcha(ctx context.Context, siteKey, pageURL string) (string, error)
}

// Client talks the createTask/getTaskResult protocol of anti-captcha
// compatible services.
type Client struct {
	cfg     config.CaptchaConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ Solver = (*Client)(nil)

// NewClient builds a service client. Result polling is rate limited to one
// request per cfg.PollInterval regardless of how aggressively the solve loop
// wakes up.
func NewClient(cfg config.CaptchaConfig, logger *zap.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.SolveTimeout <= 0 {
		cfg.SolveTimeout = 3 * time.Minute
	}

	dialer := &net.Dialer{
		Timeout:       5 * time.Second,
		KeepAlive:     15 * time.Second,
		FallbackDelay: 300 * time.Millisecond,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1.", zap.Error(err))
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		limiter: rate.NewLimiter(rate.Every(cfg.PollInterval), 1),
		logger:  logger.Named("captcha.client"),
	}
}

type taskRequest struct {
	ClientKey string `json:"clientKey"`
	Task      any    `json:"task"`
}

type imageTask struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

type recaptchaTask struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
}

type createResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
}

type resultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type resultResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         struct {
		Text               string `json:"text"`
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
	} `json:"solution"`
}

// SolveImage submits the image bytes and waits for the recognized text.
func (c *Client) SolveImage(ctx context.Context, image []byte) (string, error) {
	task := imageTask{
		Type: "ImageToTextTask",
		Body: base64.StdEncoding.EncodeToString(image),
	}
	result, err := c.solve(ctx, task)
	if err != nil {
		return "", err
	}
	return result.Solution.Text, nil
}

// SolveRecaptcha submits a proxyless site-key solve request and waits for the
// response token.
func (c *Client) SolveRecaptcha(ctx context.Context, siteKey, pageURL string) (string, error) {
	task := recaptchaTask{
		Type:       "RecaptchaV2TaskProxyless",
		WebsiteURL: pageURL,
		WebsiteKey: siteKey,
	}
	result, err := c.solve(ctx, task)
	if err != nil {
		return "", err
	}
	return result.Solution.GRecaptchaResponse, nil
}

func (c *Client) solve(ctx context.Context, task any) (*resultResponse, error) {
	solveCtx, cancel := context.WithTimeout(ctx, c.cfg.SolveTimeout)
	defer cancel()

	taskID, err := c.createTask(solveCtx, task)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Solve task created.", zap.Int64("task_id", taskID))

	for {
		if err := c.limiter.Wait(solveCtx); err != nil {
			return nil, fmt.Errorf("%w: solve timed out: %v", schemas.ErrCaptchaService, err)
		}
		result, err := c.taskResult(solveCtx, taskID)
		if err != nil {
			return nil, err
		}
		if result.Status == "ready" {
			return result, nil
		}
	}
}

func (c *Client) createTask(ctx context.Context, task any) (int64, error) {
	var resp createResponse
	req := taskRequest{ClientKey: c.cfg.APIKey, Task: task}
	if err := c.post(ctx, "/createTask", req, &resp); err != nil {
		return 0, err
	}
	if resp.ErrorID != 0 {
		return 0, fmt.Errorf("%w: %s: %s", schemas.ErrCaptchaService, resp.ErrorCode, resp.ErrorDescription)
	}
	return resp.TaskID, nil
}

func (c *Client) taskResult(ctx context.Context, taskID int64) (*resultResponse, error) {
	var resp resultResponse
	req := resultRequest{ClientKey: c.cfg.APIKey, TaskID: taskID}
	if err := c.post(ctx, "/getTaskResult", req, &resp); err != nil {
		return nil, err
	}
	if resp.ErrorID != 0 {
		return nil, fmt.Errorf("%w: %s: %s", schemas.ErrCaptchaService, resp.ErrorCode, resp.ErrorDescription)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", schemas.ErrCaptchaService, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", schemas.ErrCaptchaService, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", schemas.ErrCaptchaService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: service returned %s", schemas.ErrCaptchaService, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", schemas.ErrCaptchaService, err)
	}
	return nil
}

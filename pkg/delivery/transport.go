package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/kumarabd/gokit/logger"

	"github.com/bugrelay/bugrelay/pkg/reporttypes"
)

// AuthConfig describes how requests to the collector are authenticated. The
// delivery engine does not choose the scheme; it attaches whatever the caller
// configured.
type AuthConfig struct {
	Scheme  string            `json:"scheme" yaml:"scheme" default:""` // api_key, bearer, custom
	APIKey  string            `json:"api_key" yaml:"api_key"`
	Header  string            `json:"header" yaml:"header" default:"X-API-Key"`
	Token   string            `json:"token" yaml:"token"`
	Headers map[string]string `json:"headers" yaml:"headers"`
}

// Config contains configuration for the delivery engine
type Config struct {
	Endpoint            string        `json:"endpoint" yaml:"endpoint" default:"http://localhost:9090/v1/reports"`
	UploadEndpoint      string        `json:"upload_endpoint" yaml:"upload_endpoint" default:""`
	DirectUploadEnabled bool          `json:"direct_upload_enabled" yaml:"direct_upload_enabled" default:"false"`
	CompressionEnabled  bool          `json:"compression_enabled" yaml:"compression_enabled" default:"true"`
	InlineMaxBytes      int           `json:"inline_max_bytes" yaml:"inline_max_bytes" default:"65536"`
	Timeout             time.Duration `json:"timeout" yaml:"timeout" default:"30s"`
	BreakerFailures     int           `json:"breaker_failures" yaml:"breaker_failures" default:"5"`
	BreakerResetSeconds int           `json:"breaker_reset_seconds" yaml:"breaker_reset_seconds" default:"30"`
	Auth                AuthConfig    `json:"auth" yaml:"auth"`
}

// Classification buckets a transmission outcome
type Classification int

const (
	ClassDelivered Classification = iota
	ClassRetriable
	ClassRateLimited
	ClassPermanent
	ClassCancelled
)

// Outcome is the result of one transmission attempt
type Outcome struct {
	Class      Classification
	StatusCode int
	RetryAfter time.Duration // only for ClassRateLimited, from the server
	Err        error
}

// ProgressFunc observes bytes transmitted for a report
type ProgressFunc func(reportID string, sent, total int64)

// Client transmits sanitized reports to the remote collector
type Client struct {
	config     *Config
	httpClient *http.Client
	log        *logger.Handler
	onProgress ProgressFunc
}

// NewClient creates a collector client
func NewClient(config *Config, log *logger.Handler, onProgress ProgressFunc) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		onProgress: onProgress,
	}
}

// attachment is how the screenshot travels in the report payload: inlined for
// small payloads, referenced by upload id when sent through the direct channel
type attachment struct {
	Inline    []byte `json:"inline,omitempty"`
	UploadRef string `json:"upload_ref,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	Size      int    `json:"size"`
}

// reportPayload is the collector wire body
type reportPayload struct {
	ID             string                      `json:"id"`
	Title          string                      `json:"title"`
	Description    string                      `json:"description"`
	Severity       reporttypes.Severity        `json:"severity"`
	Tags           []string                    `json:"tags,omitempty"`
	CustomData     *reporttypes.CustomValue    `json:"custom_data,omitempty"`
	StackSignature string                      `json:"stack_signature,omitempty"`
	Redaction      reporttypes.RedactionReport `json:"redaction"`
	CreatedAt      time.Time                   `json:"created_at"`
	Screenshot     *attachment                 `json:"screenshot,omitempty"`
}

// Submit transmits one report and classifies the result
func (c *Client) Submit(ctx context.Context, report *reporttypes.BugReport) Outcome {
	payload := reportPayload{
		ID:             report.ID,
		Title:          report.Title,
		Description:    report.Description,
		Severity:       report.Severity,
		Tags:           report.Tags,
		CustomData:     report.CustomData,
		StackSignature: report.StackSignature,
		Redaction:      report.Redaction,
		CreatedAt:      report.CreatedAt,
	}

	if len(report.Screenshot) > 0 {
		att, outcome := c.prepareAttachment(ctx, report)
		if outcome != nil {
			return *outcome
		}
		payload.Screenshot = att
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Class: ClassPermanent, Err: fmt.Errorf("encoding payload: %w", err)}
	}

	compressed := false
	if c.config.CompressionEnabled {
		if gz, err := gzipBytes(body); err == nil {
			body = gz
			compressed = true
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint,
		c.progressReader(report.ID, body))
	if err != nil {
		return Outcome{Class: ClassPermanent, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/json")
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return classifyStatus(resp)
}

// prepareAttachment compresses the screenshot and either uploads it through
// the direct channel or returns it for inlining. Returning a non-nil outcome
// aborts the submission with that result.
func (c *Client) prepareAttachment(ctx context.Context, report *reporttypes.BugReport) (*attachment, *Outcome) {
	data := report.Screenshot
	encoding := ""
	if c.config.CompressionEnabled {
		if gz, err := gzipBytes(data); err == nil && len(gz) < len(data) {
			data = gz
			encoding = "gzip"
		}
	}

	direct := c.config.DirectUploadEnabled && c.config.UploadEndpoint != "" &&
		len(data) > c.config.InlineMaxBytes
	if !direct {
		return &attachment{Inline: data, Encoding: encoding, Size: len(data)}, nil
	}

	ref := uuid.NewString()
	url := strings.TrimSuffix(c.config.UploadEndpoint, "/") + "/" + ref
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url,
		c.progressReader(report.ID, data))
	if err != nil {
		return nil, &Outcome{Class: ClassPermanent, Err: fmt.Errorf("creating upload request: %w", err)}
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", "application/octet-stream")
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome := c.classifyTransportError(ctx, err)
		return nil, &outcome
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if outcome := classifyStatus(resp); outcome.Class != ClassDelivered {
		return nil, &outcome
	}
	return &attachment{UploadRef: ref, Encoding: encoding, Size: len(data)}, nil
}

// applyAuth attaches the caller-configured credentials
func (c *Client) applyAuth(req *http.Request) {
	auth := c.config.Auth
	switch auth.Scheme {
	case "api_key":
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, auth.APIKey)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "custom":
		for k, v := range auth.Headers {
			req.Header.Set(k, v)
		}
	}
}

// progressReader wraps the body so the caller can observe upload progress
func (c *Client) progressReader(reportID string, body []byte) io.Reader {
	if c.onProgress == nil {
		return bytes.NewReader(body)
	}
	return &countingReader{
		inner:    bytes.NewReader(body),
		total:    int64(len(body)),
		reportID: reportID,
		notify:   c.onProgress,
	}
}

type countingReader struct {
	inner    io.Reader
	sent     int64
	total    int64
	reportID string
	notify   ProgressFunc
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		r.sent += int64(n)
		r.notify(r.reportID, r.sent, r.total)
	}
	return n, err
}

// classifyTransportError maps a client-side error onto a retry class
func (c *Client) classifyTransportError(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil {
		return Outcome{Class: ClassCancelled, Err: ctx.Err()}
	}
	// Network errors and timeouts are transient
	return Outcome{Class: ClassRetriable, Err: err}
}

// classifyStatus maps a collector response onto a retry class: 2xx delivered,
// 429 retriable with the server-suggested delay, other 4xx permanent, the
// rest retriable.
func classifyStatus(resp *http.Response) Outcome {
	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		return Outcome{Class: ClassDelivered, StatusCode: status}
	case status == http.StatusTooManyRequests:
		return Outcome{
			Class:      ClassRateLimited,
			StatusCode: status,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("collector rate limited (status %d)", status),
		}
	case status >= 400 && status < 500:
		return Outcome{
			Class:      ClassPermanent,
			StatusCode: status,
			Err:        fmt.Errorf("collector rejected report (status %d)", status),
		}
	default:
		return Outcome{
			Class:      ClassRetriable,
			StatusCode: status,
			Err:        fmt.Errorf("collector error (status %d)", status),
		}
	}
}

// parseRetryAfter handles both delay-seconds and HTTP-date forms
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SPDX-License-Identifier: MIT
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"voicestudio/internal/clip"
	"voicestudio/internal/config"
	"voicestudio/internal/log"
	"voicestudio/internal/metrics"
)

// Upload field and filename expected by the transcription endpoint.
const (
	uploadField    = "file"
	uploadFilename = "chunk.wav"

	maxErrorBody = 4 << 10
	maxSpeech    = 64 << 20
)

var (
	// ErrSynthesis is returned when the backend answers a synthesis request
	// with an error document instead of audio.
	ErrSynthesis = errors.New("backend: synthesis failed")

	// ErrEmptyText rejects synthesis of blank text before any request is sent.
	ErrEmptyText = errors.New("backend: no text provided")
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend: HTTP %d", e.Status)
	}
	return fmt.Sprintf("backend: HTTP %d: %s", e.Status, e.Body)
}

// SynthesisRequest asks the backend to speak Text. ClientID routes job
// progress to the caller's status channel.
type SynthesisRequest struct {
	Text     string `json:"text"`
	Engine   string `json:"engine,omitempty"`
	VoiceID  string `json:"voice_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// Speech is the result of a synthesis request. Backends that queue the job
// answer with a TaskID and deliver progress over the status channel instead
// of audio.
type Speech struct {
	Data     []byte
	MIMEType string
	TaskID   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMetrics records transcription latency and failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client talks to the transcription and synthesis APIs.
type Client struct {
	baseURL string
	http    *http.Client
	metrics *metrics.Metrics
}

// NewClient returns a client for baseURL (for example http://localhost:8000).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: config.DefaultBackendTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe uploads one clip and returns its trimmed transcript. An empty
// string means the backend heard nothing.
func (c *Client) Transcribe(ctx context.Context, cl clip.Clip) (string, error) {
	started := time.Now()
	text, err := c.transcribe(ctx, cl)
	c.metrics.RecordTranscription(time.Since(started).Seconds(), err)
	return text, err
}

func (c *Client) transcribe(ctx context.Context, cl clip.Clip) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	mimeType := cl.MIMEType
	if mimeType == "" {
		mimeType = clip.MIMEType
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, uploadField, uploadFilename))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(cl.Data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/transcribe", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode transcript: %w", err)
	}
	text := strings.TrimSpace(out.Transcript)
	log.Debugf("Backend: clip %d transcribed (%d chars)", cl.Seq, len(text))
	return text, nil
}

// Synthesize submits text for speech synthesis.
func (c *Client) Synthesize(ctx context.Context, r SynthesisRequest) (Speech, error) {
	r.Text = strings.TrimSpace(r.Text)
	if r.Text == "" {
		return Speech{}, ErrEmptyText
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return Speech{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/synthesize", bytes.NewReader(payload))
	if err != nil {
		return Speech{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return Speech{}, err
	}
	defer resp.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "audio/") {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxSpeech))
		if err != nil {
			return Speech{}, fmt.Errorf("failed to read speech: %w", err)
		}
		log.Infof("Backend: received %d bytes of %s", len(data), mediaType)
		return Speech{Data: data, MIMEType: mediaType}, nil
	}

	var doc struct {
		Error  string `json:"error"`
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Speech{}, fmt.Errorf("unexpected synthesis response (%s): %w", mediaType, err)
	}
	if doc.Error != "" {
		return Speech{}, fmt.Errorf("%w: %s", ErrSynthesis, doc.Error)
	}
	if doc.TaskID == "" {
		return Speech{}, fmt.Errorf("%w: response carried neither audio nor a task id", ErrSynthesis)
	}
	log.Infof("Backend: synthesis queued as task %s", doc.TaskID)
	return Speech{TaskID: doc.TaskID}, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

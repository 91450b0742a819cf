// Package whisper transcribes uploaded audio through a Whisper server exposing the
// OpenAI-compatible /v1/audio/transcriptions endpoint.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/resilience"
)

const maxAudioBytes = 25 << 20

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) {
		c.executor = executor
	}
}

func New(baseURL, model string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe buffers the upload so that retries can resend it.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (domain.Transcription, error) {
	data, err := io.ReadAll(io.LimitReader(audio, maxAudioBytes+1))
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return domain.Transcription{}, domain.WrapError(domain.ErrInvalidInput, "transcribe", errors.New("audio is empty"))
	}
	if len(data) > maxAudioBytes {
		return domain.Transcription{}, domain.WrapError(domain.ErrInvalidInput, "transcribe", fmt.Errorf("audio exceeds %d bytes", maxAudioBytes))
	}

	var result domain.Transcription
	call := func(callCtx context.Context) error {
		var err error
		result, err = c.post(callCtx, filename, data)
		return err
	}
	if c.executor != nil {
		err = c.executor.Execute(ctx, "whisper.transcribe", call, classifyWhisperError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.Transcription{}, wrapTranscribeError(err)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, filename string, data []byte) (domain.Transcription, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if c.model != "" {
		if err := writer.WriteField("model", c.model); err != nil {
			return domain.Transcription{}, fmt.Errorf("write model field: %w", err)
		}
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return domain.Transcription{}, fmt.Errorf("write format field: %w", err)
	}
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "." || name == "/" || name == "" {
		name = "audio.wav"
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return domain.Transcription{}, fmt.Errorf("write file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return domain.Transcription{}, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("create transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return domain.Transcription{}, resilience.NewStatusError("whisper", "transcribe", resp)
	}

	var decoded struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.Transcription{}, fmt.Errorf("decode transcribe response: %w", err)
	}
	return domain.Transcription{
		Text:     strings.TrimSpace(decoded.Text),
		Language: domain.ParseLanguage(decoded.Language),
	}, nil
}

var classifyWhisperError = resilience.HTTPClassifier(func(code int) bool {
	return code == http.StatusTooManyRequests || resilience.ServerErrorStatus(code)
})

// wrapTranscribeError reports rejected uploads as invalid input and transient failures as temporary.
func wrapTranscribeError(err error) error {
	if code, ok := resilience.StatusCode(err); ok && (code == http.StatusBadRequest || code == http.StatusUnsupportedMediaType) {
		return domain.WrapError(domain.ErrInvalidInput, "whisper transcribe", err)
	}
	return resilience.WrapTemporary("whisper transcribe", err, classifyWhisperError)
}

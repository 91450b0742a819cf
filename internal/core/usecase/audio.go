package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/core/ports"
)

type AudioFAQUseCase struct {
	transcriber ports.Transcriber
	faq         ports.FAQService
	timeout     time.Duration
}

func NewAudioFAQUseCase(transcriber ports.Transcriber, faq ports.FAQService, timeout time.Duration) *AudioFAQUseCase {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AudioFAQUseCase{transcriber: transcriber, faq: faq, timeout: timeout}
}

// AskAudio transcribes the recording and answers it. The transcription language is used as
// the language hint unless the caller already supplied a supported one.
func (uc *AudioFAQUseCase) AskAudio(ctx context.Context, filename string, audio io.Reader, query domain.Query) (domain.AnswerEnvelope, error) {
	transcribeCtx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	transcript, err := uc.transcriber.Transcribe(transcribeCtx, filename, audio)
	if err != nil {
		return domain.AnswerEnvelope{}, fmt.Errorf("transcribe audio: %w", err)
	}
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		return domain.AnswerEnvelope{}, domain.WrapError(domain.ErrInvalidInput, "transcribe audio", errors.New("no speech recognized"))
	}

	query.Text = text
	if !query.Language.IsSupported() && transcript.Language.IsSupported() {
		query.Language = transcript.Language
	}
	return uc.faq.Ask(ctx, query)
}

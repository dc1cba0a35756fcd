package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/openclaw/voicebridge/callmanager"
)

const systemPromptTemplate = `Ты — консьерж ресторана. Тебе дана расшифровка телефонного звонка с %s.
Составь краткое резюме звонка на русском языке для администратора.
Если в разговоре согласована бронь столика, извлеки её в структурированном виде.
Ответь СТРОГО в формате JSON без пояснений: {"summary": string, "booking": {"confirmed": bool, "restaurant": string, "date": "YYYY-MM-DD", "time": "HH:MM", "durationMinutes": number, "guestName": string, "guestCount": number, "address": string, "notes": string} | null}.`

var weekdaysRu = [...]string{"воскресенье", "понедельник", "вторник", "среда", "четверг", "пятница", "суббота"}

// referenceDateString converts now to Europe/Moscow and renders it as
// "2 января 2026, пятница"-style text for the system prompt. Months are spelled out to avoid locale libraries.
func referenceDateString(now time.Time) string {
	mskNow := now.In(mustMoscow())
	return fmt.Sprintf("%d %s %d, %s",
		mskNow.Day(), monthRu(int(mskNow.Month())), mskNow.Year(), weekdaysRu[int(mskNow.Weekday())])
}

var monthsRu = [...]string{"января", "февраля", "марта", "апреля", "мая", "июня", "июля", "августа", "сентября", "октября", "ноября", "декабря"}

func monthRu(m int) string { return monthsRu[m-1] }

// mustMoscow loads the Europe/Moscow location. Falls back to a fixed
// UTC+3 offset (Moscow observes no DST) if the tzdata database is
// unavailable in the runtime environment.
func mustMoscow() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// OpenAISummarizer implements Summarizer against the chat completions
// endpoint in JSON mode, grounded on hubenschmidt-asr-llm-tts's
// internal/pipeline/llm_openai.go request-construction shape (explicit
// per-call context, one request, defensive response parsing).
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

func NewOpenAISummarizer(apiKey, model string) *OpenAISummarizer {
	if model == "" {
		model = "gpt-4o-mini"
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAISummarizer{client: &c, model: model}
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, referenceDate string, transcript []callmanager.TranscriptEntry) (string, *BookingDetails, error) {
	systemPrompt := fmt.Sprintf(systemPromptTemplate, referenceDate)

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(renderTranscript(transcript)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return "", nil, fmt.Errorf("outcome: llm summary request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, fmt.Errorf("outcome: llm summary: empty response")
	}

	return parseSummaryResponse(resp.Choices[0].Message.Content)
}

func renderTranscript(entries []callmanager.TranscriptEntry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Role)
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// parseSummaryResponse implements spec.md §4.8 step 3's defensive parse:
// on malformed JSON, the raw text becomes the summary with no booking;
// booking fields of the wrong runtime type are dropped; confirmed!=true is
// treated as no booking.
func parseSummaryResponse(raw string) (string, *BookingDetails, error) {
	var parsed struct {
		Summary string          `json:"summary"`
		Booking json.RawMessage `json:"booking"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return raw, nil, nil
	}
	if parsed.Summary == "" {
		parsed.Summary = raw
	}

	var booking BookingDetails
	if len(parsed.Booking) == 0 || string(parsed.Booking) == "null" {
		return parsed.Summary, nil, nil
	}
	if err := json.Unmarshal(parsed.Booking, &booking); err != nil {
		// Unmarshal skips a field of the wrong type and fills the rest;
		// any other error drops the booking.
		if _, ok := err.(*json.UnmarshalTypeError); !ok {
			return parsed.Summary, nil, nil
		}
	}
	if !booking.Confirmed {
		return parsed.Summary, nil, nil
	}
	return parsed.Summary, &booking, nil
}

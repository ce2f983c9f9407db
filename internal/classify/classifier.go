// Package classify assigns a category, urgency and optional extracted
// details to inbound messages, using an LLM when available and a fixed
// keyword table otherwise.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mondzorg/inbox/internal/logger"
	"github.com/mondzorg/inbox/internal/model"
)

const (
	defaultTimeout           = 20 * time.Second
	defaultRequestsPerMinute = 60
)

// Method records which path produced a Result.
type Method string

const (
	MethodAI       Method = "ai"
	MethodKeywords Method = "keywords"
)

// Input is the message text handed to the classifier.
type Input struct {
	Sender  string
	Subject string
	Body    string
}

// Result is the outcome of classifying one message. ExtractedInfo and
// SuggestedResponse are only ever set by the AI path.
type Result struct {
	Category          model.Category
	Urgency           model.Urgency
	ExtractedInfo     *model.ExtractedInfo
	SuggestedResponse string
	Method            Method
}

// Completer sends a single prompt to a language model and returns the
// raw text of its answer.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options tunes the AI path.
type Options struct {
	// Timeout bounds one AI attempt including the wait for a rate slot.
	Timeout time.Duration
	// RequestsPerMinute caps outgoing completion calls.
	RequestsPerMinute int
}

// Classifier is safe for concurrent use.
type Classifier struct {
	completer Completer
	limiter   *rate.Limiter
	timeout   time.Duration
}

// New builds a classifier. A nil completer disables the AI path.
func New(completer Completer, opts Options) *Classifier {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = defaultRequestsPerMinute
	}

	burst := opts.RequestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}

	return &Classifier{
		completer: completer,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), burst),
		timeout:   opts.Timeout,
	}
}

// AIEnabled reports whether an AI backend is configured.
func (c *Classifier) AIEnabled() bool {
	return c.completer != nil
}

// Classify never fails: any AI error, timeout or unusable answer falls
// back to keyword classification.
func (c *Classifier) Classify(ctx context.Context, in Input, useAI bool) Result {
	if !useAI || c.completer == nil {
		return ByKeywords(in.Subject, in.Body)
	}

	result, err := c.classifyWithAI(ctx, in)
	if err != nil {
		slog.WarnContext(ctx, "ai classification failed, using keywords",
			"error", err, "subject", logger.Truncate(in.Subject, 60))
		return ByKeywords(in.Subject, in.Body)
	}
	return result
}

// SuggestResponse asks the model for a short Dutch reply template for a
// message already in category.
func (c *Classifier) SuggestResponse(
	ctx context.Context, in Input, category model.Category,
) (string, error) {
	if c.completer == nil {
		return "", ErrAIDisabled
	}

	text, err := c.complete(ctx, buildSuggestPrompt(in, category))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// ErrAIDisabled is returned when an AI-only operation is requested
// without a configured backend.
var ErrAIDisabled = errors.New("ai classification is not configured")

// ErrInvalidResponse marks a model answer that could not be used.
var ErrInvalidResponse = errors.New("invalid ai response")

func (c *Classifier) classifyWithAI(ctx context.Context, in Input) (Result, error) {
	text, err := c.complete(ctx, buildCategorizePrompt(in))
	if err != nil {
		return Result{}, err
	}
	return parseResponse(text)
}

func (c *Classifier) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	span := logger.StartSpan(ctx, "classify.complete")
	defer span.End()
	ctx = span.Context()

	if err := c.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("waiting for rate limit: %w", err)
	}

	start := time.Now()
	text, err := c.completer.Complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("completion: %w", err)
	}
	slog.DebugContext(ctx, "ai completion finished",
		"duration_ms", time.Since(start).Milliseconds(),
		"response_chars", len(text))
	return text, nil
}

var (
	jsonFenceOpen  = regexp.MustCompile("^```json\\s*")
	plainFenceOpen = regexp.MustCompile("^```\\s*")
	fenceClose     = regexp.MustCompile("\\s*```$")
	jsonObject     = regexp.MustCompile(`\{[\s\S]*\}`)
)

type aiAnswer struct {
	Category      string `json:"category"`
	Urgency       string `json:"urgency"`
	ExtractedInfo *struct {
		Name      string   `json:"name"`
		Phone     string   `json:"phone"`
		KeyPoints []string `json:"key_points"`
	} `json:"extracted_info"`
	SuggestedResponse string `json:"suggested_response_template"`
}

// parseResponse strips markdown fences, finds the JSON object and
// validates it. An unknown category is an error; an unknown urgency
// becomes medium.
func parseResponse(text string) (Result, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = jsonFenceOpen.ReplaceAllString(cleaned, "")
	cleaned = plainFenceOpen.ReplaceAllString(cleaned, "")
	cleaned = fenceClose.ReplaceAllString(cleaned, "")

	obj := jsonObject.FindString(cleaned)
	if obj == "" {
		return Result{}, fmt.Errorf("%w: no JSON object in %q",
			ErrInvalidResponse, logger.Truncate(cleaned, 80))
	}

	var answer aiAnswer
	if err := json.Unmarshal([]byte(obj), &answer); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	category := model.Category(strings.TrimSpace(answer.Category))
	if !category.Valid() {
		return Result{}, fmt.Errorf("%w: unknown category %q",
			ErrInvalidResponse, answer.Category)
	}

	urgency := model.Urgency(strings.ToLower(strings.TrimSpace(answer.Urgency)))
	if !urgency.Valid() {
		urgency = model.UrgencyMedium
	}

	result := Result{
		Category:          category,
		Urgency:           urgency,
		SuggestedResponse: strings.TrimSpace(answer.SuggestedResponse),
		Method:            MethodAI,
	}
	if info := answer.ExtractedInfo; info != nil {
		result.ExtractedInfo = &model.ExtractedInfo{
			Name:      info.Name,
			Phone:     info.Phone,
			KeyPoints: info.KeyPoints,
		}
	}
	return result, nil
}

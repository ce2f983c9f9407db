package classify

import (
	"fmt"
	"strings"

	"github.com/mondzorg/inbox/internal/model"
)

// maxBodyChars bounds the message text embedded in a prompt.
const maxBodyChars = 4000

const categorizePrompt = `You are an AI assistant for a Dutch dental practice (Mondzorg Sloterweg). Read the ENTIRE email, understand what the sender is actually asking for, then categorize it.

Email Details:
From: %s
Subject: %s
Message Content:
%s

CATEGORIES (choose the MOST APPROPRIATE based on the email's actual content and intent):

1. "Afspraak maken" - requesting, scheduling, rescheduling or confirming an appointment or consultation, or asking about availability.
2. "Behandeling informatie" - questions about specific treatments, procedures or dental services (implants, braces, cleaning, etc.).
3. "Spoedzorg" - dental pain, acute problems or other situations that need immediate care.
4. "Tarieven" - prices, costs, payment methods or billing.
5. "Verzekering" - insurance coverage, verification, claims or policy questions.
6. "Klacht" - complaints, dissatisfaction with service or treatment, negative feedback.
7. "Algemene vraag" - general questions about the practice or anything that does not clearly fit the categories above.

Determine the urgency as well: low = not time-sensitive, medium = normal priority, high = urgent or emergency.

Respond with ONLY a valid JSON object, no markdown and no explanations:
{
  "category": "one category name from the list above",
  "urgency": "low, medium, or high",
  "extracted_info": {
    "name": "patient name if mentioned, or empty string",
    "phone": "phone number if mentioned, or empty string",
    "key_points": ["main point 1", "main point 2", "main point 3"]
  },
  "suggested_response_template": "a brief, professional Dutch response (2-3 sentences) for this email, or empty string"
}`

const suggestPrompt = `Based on this email to a dental practice, suggest a professional Dutch response template:

Category: %s
From: %s
Subject: %s
Message: %s

Provide a brief, professional Dutch response (2-3 sentences) that acknowledges the inquiry, gives helpful next steps and is warm and professional.

Respond with ONLY the response text, no explanations.`

func buildCategorizePrompt(in Input) string {
	return fmt.Sprintf(categorizePrompt,
		orDefault(in.Sender, "Unknown"),
		orDefault(in.Subject, "No subject"),
		orDefault(truncateRunes(in.Body, maxBodyChars), "No message content"),
	)
}

func buildSuggestPrompt(in Input, category model.Category) string {
	return fmt.Sprintf(suggestPrompt,
		category,
		orDefault(in.Sender, "Unknown"),
		orDefault(in.Subject, "No subject"),
		orDefault(truncateRunes(in.Body, 1500), "No message content"),
	)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// truncateRunes cuts s to at most n characters without splitting a
// multi-byte character.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// TextVerdict is the moderation result for free text: whether it is
// appropriate for the feed and relevant to air quality / eco topics.
type TextVerdict struct {
	IsAppropriate bool   `json:"is_appropriate"`
	IsRelevant    bool   `json:"is_relevant"`
	Reason        string `json:"reason"`
}

// ImageVerdict is the validation result for an AR-scan image.
type ImageVerdict struct {
	IsRelevant  bool   `json:"is_relevant"`
	IsQualityOk bool   `json:"is_quality_ok"`
	Reason      string `json:"reason"`
}

// Moderator is the AI collaborator behind the social feed and the AR scan.
// The activity verification heuristic never calls it.
type Moderator interface {
	CheckText(ctx context.Context, text string) (*TextVerdict, error)
	CheckImage(ctx context.Context, data []byte, mimeType string) (*ImageVerdict, error)
}

const textModerationPrompt = `You moderate a community feed for an air-quality app in Kazakhstan.
Judge the following post. Respond with ONLY a JSON object:
{"is_appropriate": bool, "is_relevant": bool, "reason": "short explanation"}
"is_appropriate" is false for offensive, hateful or spam content.
"is_relevant" is false if the post has nothing to do with air quality, ecology or city life.

Post:
%s`

const imageModerationPrompt = `You validate photos submitted from an AR eco-scanner.
Judge the attached image. Respond with ONLY a JSON object:
{"is_relevant": bool, "is_quality_ok": bool, "reason": "short explanation"}
"is_relevant" is true if the image plausibly shows an eco-related subject (trees, greenery, recycling, city environment).
"is_quality_ok" is false if the image is too dark, blurry or empty to judge.`

// AIModerator wraps the Gemini API.
type AIModerator struct {
	client *genai.Client
	model  string
}

func NewAIModerator(apiKey, model string) (*AIModerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("moderator API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &AIModerator{client: client, model: model}, nil
}

func (m *AIModerator) CheckText(ctx context.Context, text string) (*TextVerdict, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf(textModerationPrompt, text), genai.RoleUser),
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("text moderation failed: %w", err)
	}

	var verdict TextVerdict
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Text())), &verdict); err != nil {
		return nil, fmt.Errorf("unparseable moderation response: %w", err)
	}
	return &verdict, nil
}

func (m *AIModerator) CheckImage(ctx context.Context, data []byte, mimeType string) (*ImageVerdict, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(imageModerationPrompt),
		genai.NewPartFromBytes(data, mimeType),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("image moderation failed: %w", err)
	}

	var verdict ImageVerdict
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Text())), &verdict); err != nil {
		return nil, fmt.Errorf("unparseable moderation response: %w", err)
	}
	return &verdict, nil
}

// stripCodeFence unwraps ```json ... ``` blocks the model sometimes emits
// around its JSON answer.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

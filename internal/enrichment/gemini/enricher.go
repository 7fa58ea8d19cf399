// Package gemini enriches scenes in-process with Google Gemini and persists
// the breakdown itself, as an alternative to the remote enrichment functions.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/helixir/scene-enrichment-service/internal/domain"
	"github.com/helixir/scene-enrichment-service/internal/enrichment"
)

// Config holds Gemini client settings.
type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// SceneStore is the persistence the enricher needs.
type SceneStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Scene, error)
	MarkEnriched(ctx context.Context, id uuid.UUID, payload json.RawMessage) error
}

// Enricher produces a production breakdown for a scene.
type Enricher struct {
	client *genai.Client
	model  string
	scenes SceneStore
}

var _ enrichment.Enricher = (*Enricher)(nil)

// New creates a Gemini-backed enricher.
func New(ctx context.Context, cfg Config, scenes SceneStore) (*Enricher, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("gemini model is required")
	}
	if scenes == nil {
		return nil, fmt.Errorf("scene store is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}

	return &Enricher{
		client: client,
		model:  strings.TrimSpace(cfg.Model),
		scenes: scenes,
	}, nil
}

// Breakdown is the structured enrichment stored on a scene.
type Breakdown struct {
	Summary    string   `json:"summary"`
	Characters []string `json:"characters"`
	Props      []string `json:"props"`
	Locations  []string `json:"locations"`
	Wardrobe   []string `json:"wardrobe"`
	Effects    []string `json:"effects"`
	Model      string   `json:"model"`
}

var stringList = &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}

var outputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary":    {Type: genai.TypeString},
		"characters": stringList,
		"props":      stringList,
		"locations":  stringList,
		"wardrobe":   stringList,
		"effects":    stringList,
	},
	Required: []string{"summary", "characters", "props", "locations", "wardrobe", "effects"},
}

// Enrich generates and persists the breakdown of one scene.
func (e *Enricher) Enrich(ctx context.Context, sceneID, jobID uuid.UUID) error {
	scene, err := e.scenes.Get(ctx, sceneID)
	if err != nil {
		return fmt.Errorf("load scene: %w", err)
	}
	if scene.JobID != jobID {
		return domain.NewValidationError("scene_id", fmt.Sprintf("scene %s does not belong to job %s", sceneID, jobID))
	}
	if scene.Enriched {
		return nil
	}

	resp, err := e.client.Models.GenerateContent(
		ctx,
		e.model,
		genai.Text(buildPrompt(scene)),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   outputSchema,
		},
	)
	if err != nil {
		return classifyErr(err)
	}

	payload, err := parseBreakdown(resp.Text(), e.model)
	if err != nil {
		return err
	}

	return e.scenes.MarkEnriched(ctx, sceneID, payload)
}

func buildPrompt(scene *domain.Scene) string {
	return strings.TrimSpace(`
You are a film pre-production assistant. Break down the screenplay scene below for the production team.

Return ONLY a single JSON object with these keys:
- summary (string; one or two sentences)
- characters (array of strings; speaking and non-speaking roles)
- props (array of strings)
- locations (array of strings)
- wardrobe (array of strings)
- effects (array of strings; practical, visual and sound effects)

Rules:
- Use empty arrays when nothing applies.
- Do not include extra keys.

Scene ` + fmt.Sprint(scene.SceneNumber) + `: ` + strings.TrimSpace(scene.Heading) + `

` + strings.TrimSpace(scene.Content) + `
`)
}

// parseBreakdown validates the model output and normalizes it for storage.
func parseBreakdown(text, model string) (json.RawMessage, error) {
	var b Breakdown
	if err := json.Unmarshal([]byte(text), &b); err != nil {
		return nil, fmt.Errorf("gemini: parse structured json: %w", err)
	}

	b.Summary = strings.TrimSpace(b.Summary)
	b.Characters = clean(b.Characters)
	b.Props = clean(b.Props)
	b.Locations = clean(b.Locations)
	b.Wardrobe = clean(b.Wardrobe)
	b.Effects = clean(b.Effects)
	b.Model = model

	out, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal breakdown: %w", err)
	}
	return out, nil
}

// clean trims entries and drops blanks and duplicates, preserving order.
func clean(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// classifyErr renders Gemini API errors like the remote functions' HTTP errors
// so the orchestrator's retry classifier treats both backends alike.
func classifyErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = apiErr.Status
		}
		return &enrichment.APIError{StatusCode: apiErr.Code, Message: msg}
	}
	return fmt.Errorf("gemini: %w", err)
}

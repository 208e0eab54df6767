package llm

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const arbiterSystemPrompt = `Você avalia se um registro de licitação pública é relevante para uma busca.
Responda APENAS com JSON no formato:
{"relevant": true|false, "confidence": 0.0-1.0, "reason": "curta justificativa"}
Um registro é relevante quando seu objeto corresponde ao interesse expresso
pelas palavras-chave. Termos de exclusão presentes no objeto tornam o
registro irrelevante.`

// AnthropicArbiter implements Arbiter using the Anthropic Messages API with
// a small fast model.
type AnthropicArbiter struct {
	client sdk.Client
	model  string
}

// NewAnthropicArbiter creates an arbiter backed by the given model.
func NewAnthropicArbiter(apiKey, model string) *AnthropicArbiter {
	return &AnthropicArbiter{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
		model: model,
	}
}

// Judge sends one record to the model and parses the JSON verdict.
func (a *AnthropicArbiter) Judge(ctx context.Context, req JudgeRequest) (Verdict, error) {
	msg, err := a.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: 256,
		System: []sdk.TextBlockParam{
			{Text: arbiterSystemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(buildPrompt(req))),
		},
		Temperature: sdk.Float(0),
	})
	if err != nil {
		return Verdict{}, eris.Wrap(err, "llm: judge record")
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	verdict, err := parseVerdict(text)
	if err != nil {
		zap.L().Warn("arbiter returned unparseable verdict",
			zap.String("model", a.model),
			zap.String("raw", truncate(text, 200)),
			zap.Error(err),
		)
		return Verdict{}, err
	}
	return verdict, nil
}

func buildPrompt(req JudgeRequest) string {
	var b strings.Builder
	b.WriteString("Palavras-chave da busca: ")
	b.WriteString(strings.Join(req.Keywords, ", "))
	if len(req.ExclusionTerms) > 0 {
		b.WriteString("\nTermos de exclusão: ")
		b.WriteString(strings.Join(req.ExclusionTerms, ", "))
	}
	b.WriteString("\n\nObjeto da licitação: ")
	b.WriteString(req.ObjectDescription)
	if req.AgencyName != "" {
		b.WriteString("\nÓrgão: ")
		b.WriteString(req.AgencyName)
	}
	return b.String()
}

// parseVerdict tolerates code fences and surrounding prose around the JSON.
func parseVerdict(text string) (Verdict, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Verdict{}, eris.New("llm: no JSON object in verdict")
	}

	var v Verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return Verdict{}, eris.Wrap(err, "llm: decode verdict")
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return Verdict{}, eris.Errorf("llm: confidence %v out of range", v.Confidence)
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

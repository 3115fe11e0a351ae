package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"quantum-trader/internal/models"
)

const llmSystemPrompt = `You are a crypto market classifier. You receive indicator values per timeframe
and answer with a single JSON object: {"class": 0|1|2, "confidence": 0.0-1.0}
where 0 = sell, 1 = hold, 2 = buy. Answer with JSON only.`

// chatCompleter is the part of *openai.Client the scorer uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMScorer asks a chat model to classify the feature vector.
type LLMScorer struct {
	client     chatCompleter
	model      string
	timeframes []string
	timeout    time.Duration
}

// NewLLMScorer creates an OpenAI-backed scorer.
func NewLLMScorer(apiKey, model string, timeframes []string, timeout time.Duration) *LLMScorer {
	return newLLMScorer(openai.NewClient(apiKey), model, timeframes, timeout)
}

func newLLMScorer(client chatCompleter, model string, timeframes []string, timeout time.Duration) *LLMScorer {
	if model == "" {
		model = openai.GPT4oMini
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLMScorer{client: client, model: model, timeframes: timeframes, timeout: timeout}
}

func (s *LLMScorer) Name() string { return "llm" }

func (s *LLMScorer) Close() error { return nil }

type llmAnswer struct {
	Class      *int     `json:"class"`
	Confidence *float64 `json:"confidence"`
}

// Score sends the features as a prompt and parses the JSON answer.
func (s *LLMScorer) Score(ctx context.Context, input []float32) models.Result[models.Prediction] {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: llmSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: s.prompt(input)},
		},
	})
	if err != nil {
		return models.Unavailable[models.Prediction](fmt.Errorf("openai completion failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return models.Unavailable[models.Prediction](fmt.Errorf("no response from openai"))
	}

	pred, err := parseLLMAnswer(resp.Choices[0].Message.Content)
	if err != nil {
		return models.Unavailable[models.Prediction](err)
	}
	return models.Available(pred)
}

func (s *LLMScorer) prompt(input []float32) string {
	var b strings.Builder
	b.WriteString("Indicators (rsi, sma_20, ema_50, bb_width %, returns):\n")
	for i := 0; i*featuresPerTimeframe+featuresPerTimeframe <= len(input); i++ {
		tf := fmt.Sprintf("tf%d", i)
		if i < len(s.timeframes) {
			tf = s.timeframes[i]
		}
		f := input[i*featuresPerTimeframe : (i+1)*featuresPerTimeframe]
		fmt.Fprintf(&b, "%s: rsi=%.2f sma_20=%.4f ema_50=%.4f bb_width=%.3f returns=%.5f\n", tf, f[0], f[1], f[2], f[3], f[4])
	}
	return b.String()
}

// parseLLMAnswer extracts the first JSON object from the reply.
func parseLLMAnswer(content string) (models.Prediction, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return models.Prediction{}, fmt.Errorf("no JSON object in model reply")
	}

	var ans llmAnswer
	if err := json.Unmarshal([]byte(content[start:end+1]), &ans); err != nil {
		return models.Prediction{}, fmt.Errorf("parsing model reply: %w", err)
	}
	if ans.Class == nil || ans.Confidence == nil {
		return models.Prediction{}, fmt.Errorf("model reply missing class or confidence")
	}
	if *ans.Class < ClassSell || *ans.Class > ClassBuy {
		return models.Prediction{}, fmt.Errorf("model reply class %d out of range", *ans.Class)
	}
	conf := *ans.Confidence
	if conf < 0 || conf > 1 {
		return models.Prediction{}, fmt.Errorf("model reply confidence %.3f out of range", conf)
	}
	return models.Prediction{Class: *ans.Class, Confidence: conf}, nil
}

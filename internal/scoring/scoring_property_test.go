package scoring

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/sashabaranov/go-openai"
)

// Property: for any feature vector, the heuristic scorer yields a class in
// {0,1,2} whose confidence is a probability and the largest of the three.
func TestProperty_HeuristicPredictionValid(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	scorer := NewHeuristicScorer()

	properties.Property("class in range and confidence is the max probability", prop.ForAll(
		func(rsi, sma, ema, bbw, ret float64) bool {
			input := []float32{float32(rsi), float32(sma), float32(ema), float32(bbw), float32(ret)}
			pred, ok := scorer.Score(context.Background(), input).Get()
			if !ok {
				return false
			}
			if pred.Class < ClassSell || pred.Class > ClassBuy {
				return false
			}
			if pred.Confidence < 0 || pred.Confidence > 1 {
				return false
			}
			for _, p := range pred.Probabilities {
				if p > pred.Confidence {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100000),
		gen.Float64Range(0, 100000),
		gen.Float64Range(0, 20),
		gen.Float64Range(-0.2, 0.2),
	))

	properties.TestingRun(t)
}

func TestHeuristicDirections(t *testing.T) {
	s := NewHeuristicScorer()
	ctx := context.Background()

	tests := []struct {
		name  string
		input []float32
		want  int
	}{
		{"oversold and rising", []float32{15, 105, 100, 2, 0.05}, ClassBuy},
		{"overbought and falling", []float32{90, 95, 100, 2, -0.05}, ClassSell},
		{"flat", []float32{50, 100, 100, 1, 0}, ClassHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, ok := s.Score(ctx, tt.input).Get()
			if !ok {
				t.Fatal("expected prediction")
			}
			if pred.Class != tt.want {
				t.Errorf("class = %d, want %d (probs %v)", pred.Class, tt.want, pred.Probabilities)
			}
		})
	}
}

func TestHeuristicRejectsBadInput(t *testing.T) {
	if NewHeuristicScorer().Score(context.Background(), []float32{1, 2, 3}).OK() {
		t.Fatal("expected unavailable for malformed input")
	}
}

func TestPredictionFromProbabilities(t *testing.T) {
	pred, err := PredictionFromProbabilities([]float64{0.2, 0.3, 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pred.Class != ClassBuy || pred.Confidence != 0.5 {
		t.Errorf("got %+v, want class 2 confidence 0.5", pred)
	}

	if _, err := PredictionFromProbabilities([]float64{1}); err == nil {
		t.Error("expected error for wrong arity")
	}
}

func TestSoftmaxSumsToOne(t *testing.T) {
	probs := Softmax([]float64{1000, 0, -1000})
	var total float64
	for _, p := range probs {
		total += p
	}
	if math.Abs(total-1) > 1e-9 {
		t.Errorf("sum = %v, want 1", total)
	}
}

type fakeChat struct {
	reply string
	err   error
	req   openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.reply}}},
	}, nil
}

func TestLLMScorer(t *testing.T) {
	input := []float32{55, 100, 99, 1.5, 0.01}

	tests := []struct {
		name      string
		chat      *fakeChat
		wantOK    bool
		wantClass int
	}{
		{"plain json", &fakeChat{reply: `{"class": 2, "confidence": 0.8}`}, true, ClassBuy},
		{"fenced json", &fakeChat{reply: "```json\n{\"class\": 0, \"confidence\": 0.6}\n```"}, true, ClassSell},
		{"class out of range", &fakeChat{reply: `{"class": 5, "confidence": 0.8}`}, false, 0},
		{"missing confidence", &fakeChat{reply: `{"class": 1}`}, false, 0},
		{"prose", &fakeChat{reply: "I think buy"}, false, 0},
		{"api error", &fakeChat{err: errors.New("rate limited")}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newLLMScorer(tt.chat, "", []string{"1h"}, time.Second)
			res := s.Score(context.Background(), input)
			if res.OK() != tt.wantOK {
				t.Fatalf("ok = %v, want %v (err %v)", res.OK(), tt.wantOK, res.Err())
			}
			if pred, ok := res.Get(); ok && pred.Class != tt.wantClass {
				t.Errorf("class = %d, want %d", pred.Class, tt.wantClass)
			}
		})
	}
}

func TestLLMScorerPromptNamesTimeframes(t *testing.T) {
	chat := &fakeChat{reply: `{"class": 1, "confidence": 0.5}`}
	s := newLLMScorer(chat, "", []string{"1h", "4h"}, time.Second)
	s.Score(context.Background(), make([]float32, 10))

	if len(chat.req.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(chat.req.Messages))
	}
	user := chat.req.Messages[1].Content
	for _, tf := range []string{"1h:", "4h:"} {
		if !strings.Contains(user, tf) {
			t.Errorf("prompt missing %q: %s", tf, user)
		}
	}
}

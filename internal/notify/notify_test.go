package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"quantum-trader/internal/models"
)

type captureChannel struct {
	mu      sync.Mutex
	name    string
	sent    []Notification
	err     error
	enabled bool
}

func (c *captureChannel) Name() string    { return c.name }
func (c *captureChannel) IsEnabled() bool { return c.enabled }

func (c *captureChannel) Send(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return c.err
}

func TestMultiNotifierLevels(t *testing.T) {
	tests := []struct {
		level string
		sent  []NotificationType
		want  int
	}{
		{"all", []NotificationType{NotificationTrade, NotificationError, NotificationSummary, NotificationRisk}, 4},
		{"trades_only", []NotificationType{NotificationTrade, NotificationError, NotificationSummary, NotificationRisk}, 2},
		{"errors_only", []NotificationType{NotificationTrade, NotificationError, NotificationSummary, NotificationRisk}, 2},
		{"", []NotificationType{NotificationSummary}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			ch := &captureChannel{name: "capture", enabled: true}
			mn := NewMultiNotifier(tt.level, ch)
			for _, typ := range tt.sent {
				if err := mn.Send(context.Background(), Notification{Type: typ, Title: "x"}); err != nil {
					t.Fatalf("Send: %v", err)
				}
			}
			if len(ch.sent) != tt.want {
				t.Errorf("delivered %d, want %d", len(ch.sent), tt.want)
			}
		})
	}
}

func TestMultiNotifierSkipsDisabledAndJoinsErrors(t *testing.T) {
	ok := &captureChannel{name: "ok", enabled: true}
	off := &captureChannel{name: "off"}
	bad := &captureChannel{name: "bad", enabled: true, err: errors.New("boom")}
	mn := NewMultiNotifier("all", ok, off, bad)

	err := mn.Send(context.Background(), Notification{Type: NotificationTrade})
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Fatalf("Send error = %v, want bad channel error", err)
	}
	if len(ok.sent) != 1 || len(off.sent) != 0 || len(bad.sent) != 1 {
		t.Errorf("deliveries = %d/%d/%d", len(ok.sent), len(off.sent), len(bad.sent))
	}
	if ok.sent[0].Timestamp.IsZero() {
		t.Error("timestamp not filled")
	}
	if got := mn.Channels(); len(got) != 2 {
		t.Errorf("Channels = %v", got)
	}
}

func TestTradeMessages(t *testing.T) {
	ch := &captureChannel{name: "capture", enabled: true}
	mn := NewMultiNotifier("all", ch)
	ctx := context.Background()

	opened := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trade := models.TradeRecord{
		ID: "t1", Symbol: "BTC/EUR", Side: models.SideLong, Quantity: 0.5,
		EntryPrice: 40000, StopPrice: 39200, TakeProfitPrice: 42000, OpenedAt: opened, State: models.TradeOpen,
	}
	if err := mn.SendTradeOpened(ctx, trade); err != nil {
		t.Fatalf("SendTradeOpened: %v", err)
	}

	exit := 40100.0
	closedAt := opened.Add(25 * time.Hour)
	trade.ExitPrice = &exit
	trade.ClosedAt = &closedAt
	trade.ProfitLoss = 50
	trade.State = models.TradeClosedExpired
	if err := mn.SendTradeClosed(ctx, trade); err != nil {
		t.Fatalf("SendTradeClosed: %v", err)
	}

	if ch.sent[0].Title != "Trade opened: LONG BTC/EUR" {
		t.Errorf("open title = %q", ch.sent[0].Title)
	}
	if !strings.Contains(ch.sent[0].Message, "Entry: 40,000.00 EUR") {
		t.Errorf("open message = %q", ch.sent[0].Message)
	}
	if ch.sent[1].Title != "Trade expired: BTC/EUR" {
		t.Errorf("close title = %q", ch.sent[1].Title)
	}
	for _, want := range []string{"P&L: +50.00", "Held: 25h0m0s", "Exit: 40,100.00 EUR"} {
		if !strings.Contains(ch.sent[1].Message, want) {
			t.Errorf("close message %q missing %q", ch.sent[1].Message, want)
		}
	}
}

func TestRiskWarningBypassesTradesOnlyFilter(t *testing.T) {
	ch := &captureChannel{name: "capture", enabled: true}
	mn := NewMultiNotifier("trades_only", ch)

	report := models.RiskReport{
		CapitalState: models.CapitalState{InitialCapital: 10000, CurrentCapital: 8700},
		RiskMetrics:  models.RiskMetrics{TotalTrades: 4, MaxDrawdown: -1250, MaxDrawdownPercent: -12.5},
	}
	if err := mn.SendRiskWarning(context.Background(), report, 10); err != nil {
		t.Fatalf("SendRiskWarning: %v", err)
	}
	if len(ch.sent) != 1 || ch.sent[0].Type != NotificationRisk {
		t.Fatalf("sent = %+v", ch.sent)
	}
	if !strings.Contains(ch.sent[0].Message, "-12.50%") || !strings.Contains(ch.sent[0].Message, "-10.00%") {
		t.Errorf("message = %q", ch.sent[0].Message)
	}
}

type fakeBot struct {
	msgs []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.msgs = append(f.msgs, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: len(f.msgs)}, nil
}

func TestTelegramNotifier(t *testing.T) {
	bot := &fakeBot{}
	tg := newTelegramNotifier(bot, 42)
	if !tg.IsEnabled() {
		t.Fatal("expected enabled with a chat id")
	}

	if err := tg.Send(context.Background(), Notification{Title: "Trade opened", Message: "BTC/EUR"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(bot.msgs) != 1 || bot.msgs[0].ChatID != 42 || bot.msgs[0].Text != "Trade opened\n\nBTC/EUR" {
		t.Errorf("messages = %+v", bot.msgs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tg.Send(ctx, Notification{}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled Send error = %v", err)
	}

	if newTelegramNotifier(bot, 0).IsEnabled() {
		t.Error("expected disabled without chat id")
	}
}

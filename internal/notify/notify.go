// Package notify delivers trade and risk notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quantum-trader/internal/models"
	"quantum-trader/pkg/utils"
)

// Notifier defines the notifications the trading engine sends.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendTradeOpened(ctx context.Context, trade models.TradeRecord) error
	SendTradeClosed(ctx context.Context, trade models.TradeRecord) error
	SendRiskWarning(ctx context.Context, report models.RiskReport, limitPercent float64) error
	SendSummary(ctx context.Context, report models.RiskReport) error
	SendError(ctx context.Context, err error, context string) error
}

// NotificationChannel delivers a notification to one destination.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationTrade   NotificationType = "trade"
	NotificationRisk    NotificationType = "risk"
	NotificationError   NotificationType = "error"
	NotificationSummary NotificationType = "summary"
)

// NotificationLevel filters which types are delivered.
type NotificationLevel string

const (
	LevelAll        NotificationLevel = "all"
	LevelTradesOnly NotificationLevel = "trades_only"
	LevelErrorsOnly NotificationLevel = "errors_only"
)

// MultiNotifier fans notifications out to its channels. With no channels it
// does nothing.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a notifier with the given level filter.
func NewMultiNotifier(level string, channels ...NotificationChannel) *MultiNotifier {
	mn := &MultiNotifier{
		channels: channels,
		level:    NotificationLevel(level),
	}
	if mn.level == "" {
		mn.level = LevelAll
	}
	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Channels returns the names of the enabled channels.
func (mn *MultiNotifier) Channels() []string {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	var names []string
	for _, ch := range mn.channels {
		if ch.IsEnabled() {
			names = append(names, ch.Name())
		}
	}
	return names
}

func (mn *MultiNotifier) shouldSend(t NotificationType) bool {
	switch mn.level {
	case LevelTradesOnly:
		// Risk warnings are never filtered out.
		return t == NotificationTrade || t == NotificationRisk
	case LevelErrorsOnly:
		return t == NotificationError || t == NotificationRisk
	default:
		return true
	}
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []error
	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		if err := ch.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SendTradeOpened announces a newly opened trade.
func (mn *MultiNotifier) SendTradeOpened(ctx context.Context, trade models.TradeRecord) error {
	quote := models.QuoteCurrency(trade.Symbol)
	message := fmt.Sprintf(
		"Symbol: %s\nSide: %s\nQuantity: %s\nEntry: %s\nStop: %s\nTarget: %s",
		trade.Symbol,
		trade.Side,
		utils.FormatQuantity(trade.Quantity),
		utils.FormatMoney(trade.EntryPrice, quote),
		utils.FormatPrice(trade.StopPrice),
		utils.FormatPrice(trade.TakeProfitPrice),
	)

	return mn.Send(ctx, Notification{
		Type:    NotificationTrade,
		Title:   fmt.Sprintf("Trade opened: %s %s", strings.ToUpper(string(trade.Side)), trade.Symbol),
		Message: message,
		Data: map[string]interface{}{
			"trade_id":    trade.ID,
			"symbol":      trade.Symbol,
			"side":        trade.Side,
			"quantity":    trade.Quantity,
			"entry_price": trade.EntryPrice,
		},
	})
}

// SendTradeClosed announces a closed or expired trade.
func (mn *MultiNotifier) SendTradeClosed(ctx context.Context, trade models.TradeRecord) error {
	verb := "closed"
	if trade.State == models.TradeClosedExpired {
		verb = "expired"
	}
	var exit float64
	if trade.ExitPrice != nil {
		exit = *trade.ExitPrice
	}
	quote := models.QuoteCurrency(trade.Symbol)

	message := fmt.Sprintf(
		"Symbol: %s\nSide: %s\nEntry: %s\nExit: %s\nP&L: %s",
		trade.Symbol,
		trade.Side,
		utils.FormatMoney(trade.EntryPrice, quote),
		utils.FormatMoney(exit, quote),
		utils.FormatPnL(trade.ProfitLoss),
	)
	if trade.ClosedAt != nil {
		message += fmt.Sprintf("\nHeld: %s", trade.ClosedAt.Sub(trade.OpenedAt).Round(time.Minute))
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationTrade,
		Title:   fmt.Sprintf("Trade %s: %s", verb, trade.Symbol),
		Message: message,
		Data: map[string]interface{}{
			"trade_id":    trade.ID,
			"symbol":      trade.Symbol,
			"state":       trade.State,
			"exit_price":  exit,
			"profit_loss": trade.ProfitLoss,
		},
	})
}

// SendRiskWarning announces a drawdown past the limit.
func (mn *MultiNotifier) SendRiskWarning(ctx context.Context, report models.RiskReport, limitPercent float64) error {
	message := fmt.Sprintf(
		"Max drawdown %s breaches the %s limit\nCapital: %s (start %s)\nTrades: %d, open: %d",
		utils.FormatPercent(report.MaxDrawdownPercent),
		utils.FormatPercent(-limitPercent),
		utils.FormatAmount(report.CurrentCapital),
		utils.FormatAmount(report.InitialCapital),
		report.TotalTrades,
		report.OpenTrades,
	)

	return mn.Send(ctx, Notification{
		Type:    NotificationRisk,
		Title:   "Risk warning: critical drawdown",
		Message: message,
		Data: map[string]interface{}{
			"max_drawdown_percent": report.MaxDrawdownPercent,
			"limit_percent":        limitPercent,
			"current_capital":      report.CurrentCapital,
		},
	})
}

// SendSummary sends a capital and metrics summary.
func (mn *MultiNotifier) SendSummary(ctx context.Context, report models.RiskReport) error {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Capital: %s (start %s)\n", utils.FormatAmount(report.CurrentCapital), utils.FormatAmount(report.InitialCapital)))
	sb.WriteString(fmt.Sprintf("Trades: %d (won %d, lost %d)\n", report.TotalTrades, report.WinningTrades, report.LosingTrades))
	sb.WriteString(fmt.Sprintf("Max drawdown: %s (%s)\n", utils.FormatPnL(report.MaxDrawdown), utils.FormatPercent(report.MaxDrawdownPercent)))
	sb.WriteString(fmt.Sprintf("Sharpe: %.2f\n", report.SharpeRatio))
	sb.WriteString(fmt.Sprintf("Open trades: %d", report.OpenTrades))

	return mn.Send(ctx, Notification{
		Type:    NotificationSummary,
		Title:   "Trading summary",
		Message: sb.String(),
		Data: map[string]interface{}{
			"current_capital": report.CurrentCapital,
			"total_trades":    report.TotalTrades,
		},
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   "Error",
		Message: fmt.Sprintf("%s: %v", errContext, err),
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

// LogNotifier writes notifications to the logger.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log channel.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

// Name returns the channel name.
func (l *LogNotifier) Name() string { return "log" }

// IsEnabled returns true.
func (l *LogNotifier) IsEnabled() bool { return true }

// Send logs the notification.
func (l *LogNotifier) Send(_ context.Context, n Notification) error {
	event := l.logger.Info()
	switch n.Type {
	case NotificationRisk, NotificationError:
		event = l.logger.Warn()
	}
	event.Str("type", string(n.Type)).
		Fields(n.Data).
		Str("body", n.Message).
		Msg(n.Title)
	return nil
}

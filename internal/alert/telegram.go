package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/visionguard/internal/models"
	"github.com/your-org/visionguard/internal/queue"
)

const (
	apiBase        = "https://api.telegram.org/bot"
	sendTimeout    = 5 * time.Second
	longPollWindow = 25 // seconds, server side
)

// Bot is a minimal Telegram client: send messages, and long-poll for the
// /start exchange that tells a shop owner their chat id.
type Bot struct {
	token    string
	username string
	client   *http.Client
	polling  atomic.Bool
	offset   int64
}

func NewBot(token, username string) *Bot {
	return &Bot{
		token:    token,
		username: username,
		client:   &http.Client{Timeout: (longPollWindow + 10) * time.Second},
	}
}

func (b *Bot) Enabled() bool {
	return b != nil && b.token != ""
}

// SendMessage posts a text message to a chat. Bounded by its own timeout
// so a Telegram outage cannot stall the caller.
func (b *Bot) SendMessage(ctx context.Context, chatID, text string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		apiBase+b.token+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode, body)
	}
	return nil
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// StartPolling runs the chat-id bot until ctx is cancelled. Users message
// the bot /start and get their chat id back to paste into shop settings.
// Only one poller runs per process; extra calls are no-ops.
func (b *Bot) StartPolling(ctx context.Context) {
	if !b.Enabled() {
		return
	}
	if !b.polling.CompareAndSwap(false, true) {
		slog.Warn("telegram poller already running")
		return
	}

	slog.Info("telegram bot polling started", "username", b.username)
	go func() {
		defer b.polling.Store(false)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			updates, err := b.getUpdates(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("telegram poll", "error", err)
				time.Sleep(2 * time.Second)
				continue
			}

			for _, u := range updates {
				if u.UpdateID >= b.offset {
					b.offset = u.UpdateID + 1
				}
				if u.Message == nil {
					continue
				}
				chatID := strconv.FormatInt(u.Message.Chat.ID, 10)
				reply := fmt.Sprintf(
					"Your chat id is %s. Add it to your shop settings to receive anomaly alerts here.",
					chatID)
				if err := b.SendMessage(ctx, chatID, reply); err != nil {
					slog.Warn("telegram reply", "chat_id", chatID, "error", err)
				}
			}
		}
	}()
}

func (b *Bot) getUpdates(ctx context.Context) ([]update, error) {
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(longPollWindow))
	q.Set("offset", strconv.FormatInt(b.offset, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		apiBase+b.token+"/getUpdates?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram getUpdates not ok")
	}
	return out.Result, nil
}

// ShopLookup resolves the chat id bound to a shop.
type ShopLookup interface {
	GetShop(ctx context.Context, id uuid.UUID) (*models.Shop, error)
}

// Notifier consumes anomaly events off the durable bus and forwards them
// to each shop's Telegram chat. The WebSocket path never depends on it.
type Notifier struct {
	bot   *Bot
	shops ShopLookup
}

func NewNotifier(bot *Bot, shops ShopLookup) *Notifier {
	return &Notifier{bot: bot, shops: shops}
}

// Start subscribes to the anomaly stream. Events for shops without a chat
// id are acked and skipped.
func (n *Notifier) Start(ctx context.Context, consumer *queue.Consumer) error {
	if !n.bot.Enabled() {
		slog.Info("telegram notifier disabled, no bot token")
		return nil
	}
	return consumer.ConsumeAnomalies(ctx, "telegram-notifier", n.handle)
}

func (n *Notifier) handle(ctx context.Context, msg jetstream.Msg) error {
	var event models.AnomalyEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		slog.Error("unmarshal anomaly event", "error", err)
		return nil // poison message, don't redeliver
	}

	shop, err := n.shops.GetShop(ctx, event.ShopID)
	if err != nil {
		return fmt.Errorf("lookup shop: %w", err)
	}
	if shop == nil || shop.TelegramChatID == "" {
		return nil
	}

	text := fmt.Sprintf("⚠️ %s at %s\nScore %.2f (%s confidence)\n%s",
		event.Result.Classification, event.Location,
		event.Result.Score, event.Result.Confidence,
		event.Timestamp.Format(time.RFC3339))

	if err := n.bot.SendMessage(ctx, shop.TelegramChatID, text); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}

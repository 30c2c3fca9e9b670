package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

// SecretHeader carries the secret token configured with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const helpText = "Commands:\n" +
	"/scrape <Artist - Album> - look up producer credits (costs one credit)\n" +
	"/credits - show your remaining credits\n" +
	"/status - show the job pool\n" +
	"/ping - check the bot is online"

// Submitter enqueues jobs and reports pool occupancy.
type Submitter interface {
	Submit(ctx context.Context, requester, query string) (scraper.Job, int, error)
	Status() scraper.PoolStatus
}

// Navigator routes keyboard presses to report sessions.
type Navigator interface {
	Navigate(ctx context.Context, ev scraper.NavigationEvent) bool
}

// BalanceReader reads credit balances.
type BalanceReader interface {
	Balance(requester string) int
}

// Update is the subset of a Bot API update the bot handles.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Message is an incoming chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// User is a Telegram account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// CallbackQuery is an inline keyboard press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data"`
}

// WebhookDeps groups the collaborators of a Webhook.
type WebhookDeps struct {
	Client    *Client
	Delivery  scraper.Delivery
	Submitter Submitter
	Navigator Navigator
	Ledger    BalanceReader
}

// Webhook is the http.Handler behind the bot's webhook URL.
type Webhook struct {
	client    *Client
	delivery  scraper.Delivery
	submitter Submitter
	navigator Navigator
	ledger    BalanceReader
	secret    string
	logger    *zap.Logger
}

// NewWebhook builds a Webhook. An empty secret disables the header check.
func NewWebhook(deps WebhookDeps, secret string, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		client:    deps.Client,
		delivery:  deps.Delivery,
		submitter: deps.Submitter,
		navigator: deps.Navigator,
		ledger:    deps.Ledger,
		secret:    secret,
		logger:    logger.Named("telegram"),
	}
}

// ServeHTTP handles one update. Telegram retries non-2xx responses, so
// anything past decoding is answered with 200.
func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && r.Header.Get(SecretHeader) != h.secret {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var update Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&update); err != nil {
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}

	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(r.Context(), update.CallbackQuery)
	case update.Message != nil:
		h.handleMessage(r.Context(), update.Message)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Webhook) handleMessage(ctx context.Context, msg *Message) {
	if msg.From == nil {
		return
	}
	command, args := ParseCommand(msg.Text)
	if command == "" {
		return
	}
	requester := strconv.FormatInt(msg.From.ID, 10)
	logger := h.logger.With(zap.String("requester", requester), zap.String("command", command))
	logger.Debug("command received")

	var reply string
	switch command {
	case "scrape":
		if _, _, err := h.submitter.Submit(ctx, requester, args); err != nil {
			logger.Warn("submit failed", zap.Error(err))
			reply = submitFailureMessage(err)
		}
	case "credits":
		reply = fmt.Sprintf("You have %d credits left.", h.ledger.Balance(requester))
	case "status":
		st := h.submitter.Status()
		reply = fmt.Sprintf("Active jobs: %d, queued: %d.", st.Active, st.Queued)
	case "ping":
		reply = "Pong! The bot is online."
	case "start", "help":
		reply = helpText
	default:
		reply = "Unknown command.\n" + helpText
	}
	if reply == "" {
		return
	}
	if err := h.delivery.SendStatus(ctx, requester, reply); err != nil {
		logger.Warn("reply failed", zap.Error(err))
	}
}

func (h *Webhook) handleCallback(ctx context.Context, cb *CallbackQuery) {
	answer := ""
	dir, reportID, ok := ParseCallbackData(cb.Data)
	if ok {
		accepted := h.navigator.Navigate(ctx, scraper.NavigationEvent{
			ReportID:  reportID,
			Requester: strconv.FormatInt(cb.From.ID, 10),
			Direction: dir,
		})
		if !accepted {
			answer = "This report is no longer navigable."
		}
	}
	if h.client == nil {
		return
	}
	if err := h.client.AnswerCallback(ctx, cb.ID, answer); err != nil {
		h.logger.Warn("answer callback failed", zap.String("callback_id", cb.ID), zap.Error(err))
	}
}

// ParseCommand extracts the command name, without slash or @botname, and
// its trimmed argument text. Non-command text yields an empty name.
func ParseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, args, _ := strings.Cut(text, " ")
	name, _, _ := strings.Cut(strings.TrimPrefix(head, "/"), "@")
	return strings.ToLower(name), strings.TrimSpace(args)
}

func submitFailureMessage(err error) string {
	switch {
	case errors.Is(err, scraper.ErrQueueFull):
		return "The queue is full right now. Please try again in a few minutes."
	case errors.Is(err, scraper.ErrQueueClosed):
		return "The bot is shutting down and not accepting new requests."
	default:
		return "Your request could not be queued. Please try again."
	}
}

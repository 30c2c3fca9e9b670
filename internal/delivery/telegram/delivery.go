package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/album-credits-bot/internal/report"
	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

// Button labels for report navigation.
const (
	PrevLabel = "« Prev"
	NextLabel = "Next »"
)

// Delivery implements scraper.Delivery on top of a Client. Requesters are
// Telegram user IDs and messages go to the private chat with that user.
// Report IDs have the form "<chat_id>:<message_id>".
type Delivery struct {
	client *Client

	mu       sync.Mutex
	attached map[string]bool
}

var _ scraper.Delivery = (*Delivery)(nil)

// NewDelivery wraps client.
func NewDelivery(client *Client) *Delivery {
	return &Delivery{
		client:   client,
		attached: make(map[string]bool),
	}
}

// SendStatus messages the requester.
func (d *Delivery) SendStatus(ctx context.Context, requester string, text string) error {
	if _, err := d.client.SendMessage(ctx, requester, text, nil); err != nil {
		return fmt.Errorf("send status: %w", err)
	}
	return nil
}

// SendReport posts the first page and returns the report ID.
func (d *Delivery) SendReport(ctx context.Context, page scraper.Page) (string, error) {
	msgID, err := d.client.SendMessage(ctx, page.Requester, report.Format(page), nil)
	if err != nil {
		return "", fmt.Errorf("send report: %w", err)
	}
	return formatReportID(page.Requester, msgID), nil
}

// UpdateReport re-renders page in place, keeping the keyboard while attached.
func (d *Delivery) UpdateReport(ctx context.Context, reportID string, page scraper.Page) error {
	chatID, msgID, err := ParseReportID(reportID)
	if err != nil {
		return err
	}
	var markup *InlineKeyboard
	if d.isAttached(reportID) {
		kb := NavigationKeyboard(reportID)
		markup = &kb
	}
	if err := d.client.EditMessageText(ctx, chatID, msgID, report.Format(page), markup); err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	return nil
}

// AttachNavigation adds the prev/next keyboard.
func (d *Delivery) AttachNavigation(ctx context.Context, reportID string) error {
	chatID, msgID, err := ParseReportID(reportID)
	if err != nil {
		return err
	}
	if err := d.client.EditReplyMarkup(ctx, chatID, msgID, NavigationKeyboard(reportID)); err != nil {
		return fmt.Errorf("attach navigation: %w", err)
	}
	d.setAttached(reportID, true)
	return nil
}

// ClearNavigation removes the keyboard.
func (d *Delivery) ClearNavigation(ctx context.Context, reportID string) error {
	chatID, msgID, err := ParseReportID(reportID)
	if err != nil {
		return err
	}
	d.setAttached(reportID, false)
	if err := d.client.EditReplyMarkup(ctx, chatID, msgID, InlineKeyboard{}); err != nil {
		return fmt.Errorf("clear navigation: %w", err)
	}
	return nil
}

func (d *Delivery) isAttached(reportID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached[reportID]
}

func (d *Delivery) setAttached(reportID string, on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if on {
		d.attached[reportID] = true
		return
	}
	delete(d.attached, reportID)
}

// NavigationKeyboard builds the prev/next keyboard for reportID. Callback data
// is "<direction>:<report_id>".
func NavigationKeyboard(reportID string) InlineKeyboard {
	return InlineKeyboard{Rows: [][]InlineButton{{
		{Text: PrevLabel, CallbackData: string(scraper.DirectionPrev) + ":" + reportID},
		{Text: NextLabel, CallbackData: string(scraper.DirectionNext) + ":" + reportID},
	}}}
}

// ParseCallbackData splits keyboard callback data into direction and report ID.
func ParseCallbackData(data string) (scraper.Direction, string, bool) {
	dir, reportID, ok := strings.Cut(data, ":")
	if !ok || reportID == "" {
		return "", "", false
	}
	switch d := scraper.Direction(dir); d {
	case scraper.DirectionNext, scraper.DirectionPrev:
		return d, reportID, true
	default:
		return "", "", false
	}
}

// ParseReportID splits a report ID into chat and message IDs.
func ParseReportID(reportID string) (string, int64, error) {
	chatID, rawMsg, ok := strings.Cut(reportID, ":")
	if !ok || chatID == "" {
		return "", 0, fmt.Errorf("malformed report id %q", reportID)
	}
	msgID, err := strconv.ParseInt(rawMsg, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed report id %q: %w", reportID, err)
	}
	return chatID, msgID, nil
}

func formatReportID(chatID string, messageID int64) string {
	return chatID + ":" + strconv.FormatInt(messageID, 10)
}

package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

type apiCall struct {
	Method string
	Body   map[string]any
}

type fakeAPI struct {
	mu     sync.Mutex
	calls  []apiCall
	nextID int64
	fail   string
	server *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{nextID: 41}
	api.server = httptest.NewServer(http.HandlerFunc(api.handle))
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	a.mu.Lock()
	a.calls = append(a.calls, apiCall{Method: method, Body: body})
	fail := a.fail == method
	a.nextID++
	id := a.nextID
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case !strings.HasPrefix(r.URL.Path, "/bottest-token/"):
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	case fail:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	case method == "sendMessage":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":` + jsonInt(id) + `}}`))
	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}
}

func (a *fakeAPI) Calls() []apiCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]apiCall(nil), a.calls...)
}

func (a *fakeAPI) client() *Client {
	return NewClient(ClientConfig{Token: "test-token", APIBaseURL: a.server.URL})
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestDeliveryReportLifecycle(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	d := NewDelivery(api.client())
	ctx := context.Background()
	page := scraper.Page{Index: 1, Total: 2, Requester: "123", Balance: 99,
		Records: []scraper.CreditRecord{{Subject: "STARGAZING", Contributor: "Mike Dean", Handle: "mikedean"}}}

	id, err := d.SendReport(ctx, page)
	require.NoError(t, err)
	require.Equal(t, "123:42", id)

	require.NoError(t, d.AttachNavigation(ctx, id))
	page.Index = 2
	require.NoError(t, d.UpdateReport(ctx, id, page))
	require.NoError(t, d.ClearNavigation(ctx, id))
	require.NoError(t, d.UpdateReport(ctx, id, page))

	calls := api.Calls()
	require.Len(t, calls, 5)
	require.Equal(t, "sendMessage", calls[0].Method)
	require.Equal(t, "123", calls[0].Body["chat_id"])
	require.Contains(t, calls[0].Body["text"], "page 1/2")

	require.Equal(t, "editMessageReplyMarkup", calls[1].Method)
	kb := calls[1].Body["reply_markup"].(map[string]any)["inline_keyboard"].([]any)[0].([]any)
	require.Equal(t, "prev:123:42", kb[0].(map[string]any)["callback_data"])
	require.Equal(t, "next:123:42", kb[1].(map[string]any)["callback_data"])

	require.Equal(t, "editMessageText", calls[2].Method)
	require.InDelta(t, 42, calls[2].Body["message_id"], 0)
	require.Contains(t, calls[2].Body["text"], "page 2/2")
	require.Contains(t, calls[2].Body, "reply_markup")

	require.Equal(t, "editMessageReplyMarkup", calls[3].Method)
	require.Empty(t, calls[3].Body["reply_markup"].(map[string]any)["inline_keyboard"])

	require.Equal(t, "editMessageText", calls[4].Method)
	require.NotContains(t, calls[4].Body, "reply_markup")
}

func TestDeliverySendStatusSurfacesAPIErrors(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.fail = "sendMessage"
	d := NewDelivery(api.client())

	err := d.SendStatus(context.Background(), "999", "hello")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 400, apiErr.Code)
	require.Contains(t, apiErr.Description, "chat not found")
}

func TestClientRequiresToken(t *testing.T) {
	t.Parallel()

	c := NewClient(ClientConfig{})
	_, err := c.SendMessage(context.Background(), "1", "hi", nil)
	require.ErrorIs(t, err, ErrMisconfigured)
}

func TestParseHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text    string
		command string
		args    string
	}{
		{"/scrape Travis Scott - Astroworld", "scrape", "Travis Scott - Astroworld"},
		{"/scrape@creditsbot  Utopia ", "scrape", "Utopia"},
		{"/CREDITS", "credits", ""},
		{"hello there", "", ""},
	}
	for _, tc := range tests {
		command, args := ParseCommand(tc.text)
		require.Equal(t, tc.command, command, tc.text)
		require.Equal(t, tc.args, args, tc.text)
	}

	dir, id, ok := ParseCallbackData("next:123:42")
	require.True(t, ok)
	require.Equal(t, scraper.DirectionNext, dir)
	require.Equal(t, "123:42", id)
	_, _, ok = ParseCallbackData("up:123:42")
	require.False(t, ok)

	chat, msg, err := ParseReportID("123:42")
	require.NoError(t, err)
	require.Equal(t, "123", chat)
	require.Equal(t, int64(42), msg)
	_, _, err = ParseReportID("nope")
	require.Error(t, err)
}

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []string
	err       error
}

func (s *fakeSubmitter) Submit(_ context.Context, requester, query string) (scraper.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return scraper.Job{}, 0, s.err
	}
	s.submitted = append(s.submitted, requester+"|"+query)
	return scraper.Job{ID: "job", Requester: requester, Query: query}, len(s.submitted), nil
}

func (s *fakeSubmitter) Status() scraper.PoolStatus {
	return scraper.PoolStatus{Active: 2, Queued: 5}
}

type fakeNavigator struct {
	events []scraper.NavigationEvent
	accept bool
}

func (n *fakeNavigator) Navigate(_ context.Context, ev scraper.NavigationEvent) bool {
	n.events = append(n.events, ev)
	return n.accept
}

type fakeBalances map[string]int

func (b fakeBalances) Balance(requester string) int {
	return b[requester]
}

func newWebhook(t *testing.T, api *fakeAPI, sub *fakeSubmitter, nav *fakeNavigator, secret string) *Webhook {
	t.Helper()
	client := api.client()
	return NewWebhook(WebhookDeps{
		Client:    client,
		Delivery:  NewDelivery(client),
		Submitter: sub,
		Navigator: nav,
		Ledger:    fakeBalances{"7": 12},
	}, secret, zap.NewNop())
}

func postUpdate(t *testing.T, h http.Handler, body, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookCommands(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	sub := &fakeSubmitter{}
	h := newWebhook(t, api, sub, &fakeNavigator{}, "")

	msg := func(text string) string {
		return `{"update_id":1,"message":{"message_id":5,"from":{"id":7},"chat":{"id":7},"text":` + jsonString(text) + `}}`
	}

	require.Equal(t, http.StatusOK, postUpdate(t, h, msg("/scrape Travis Scott - Astroworld"), "").Code)
	require.Equal(t, []string{"7|Travis Scott - Astroworld"}, sub.submitted)
	require.Empty(t, api.Calls())

	postUpdate(t, h, msg("/credits"), "")
	postUpdate(t, h, msg("/status"), "")
	postUpdate(t, h, msg("/ping"), "")
	postUpdate(t, h, msg("just chatting"), "")

	calls := api.Calls()
	require.Len(t, calls, 3)
	require.Equal(t, "You have 12 credits left.", calls[0].Body["text"])
	require.Equal(t, "Active jobs: 2, queued: 5.", calls[1].Body["text"])
	require.Equal(t, "Pong! The bot is online.", calls[2].Body["text"])
	require.Equal(t, "7", calls[2].Body["chat_id"])
}

func TestWebhookReportsQueueFull(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	h := newWebhook(t, api, &fakeSubmitter{err: scraper.ErrQueueFull}, &fakeNavigator{}, "")

	postUpdate(t, h, `{"update_id":1,"message":{"message_id":5,"from":{"id":7},"chat":{"id":7},"text":"/scrape x"}}`, "")
	calls := api.Calls()
	require.Len(t, calls, 1)
	require.Contains(t, calls[0].Body["text"], "queue is full")
}

func TestWebhookCallbacks(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	nav := &fakeNavigator{accept: true}
	h := newWebhook(t, api, &fakeSubmitter{}, nav, "")

	postUpdate(t, h, `{"update_id":2,"callback_query":{"id":"cb1","from":{"id":7},"data":"next:7:42"}}`, "")
	require.Equal(t, []scraper.NavigationEvent{{ReportID: "7:42", Requester: "7", Direction: scraper.DirectionNext}}, nav.events)

	nav.accept = false
	postUpdate(t, h, `{"update_id":3,"callback_query":{"id":"cb2","from":{"id":8},"data":"prev:7:42"}}`, "")

	calls := api.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "answerCallbackQuery", calls[0].Method)
	require.Equal(t, "cb1", calls[0].Body["callback_query_id"])
	require.NotContains(t, calls[0].Body, "text")
	require.Contains(t, calls[1].Body["text"], "no longer navigable")
}

func TestWebhookRejectsBadRequests(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	h := newWebhook(t, api, &fakeSubmitter{}, &fakeNavigator{}, "s3cret")

	require.Equal(t, http.StatusForbidden, postUpdate(t, h, `{}`, "wrong").Code)
	require.Equal(t, http.StatusBadRequest, postUpdate(t, h, `not json`, "s3cret").Code)
	require.Equal(t, http.StatusOK, postUpdate(t, h, `{"update_id":9}`, "s3cret").Code)
	require.Empty(t, api.Calls())
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

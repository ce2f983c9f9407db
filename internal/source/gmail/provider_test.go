package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/mondzorg/inbox/internal/source"
)

type fakeGmail struct {
	mu       sync.Mutex
	query    string
	max      string
	modifies []map[string][]string
	sentRaw  string
	sentTID  string
}

func (f *fakeGmail) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.query = r.URL.Query().Get("q")
		f.max = r.URL.Query().Get("maxResults")
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"messages": []map[string]string{{"id": "m1"}, {"id": "m2"}},
		})
	})

	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "m1":
			writeJSON(w, http.StatusOK, map[string]any{
				"id":           "m1",
				"threadId":     "t1",
				"labelIds":     []string{"INBOX", "UNREAD"},
				"internalDate": "1709280000000",
				"payload": map[string]any{
					"partId":   "",
					"mimeType": "multipart/alternative",
					"headers": []map[string]string{
						{"name": "Subject", "value": "Afspraak"},
					},
					"parts": []map[string]any{
						{
							"partId":   "0",
							"mimeType": "text/plain",
							"body": map[string]any{
								"size": 5,
								"data": base64.URLEncoding.EncodeToString([]byte("hallo")),
							},
						},
					},
				},
			})
		case "expired":
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"code": 401, "message": "Invalid Credentials"},
			})
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": map[string]any{"code": 404, "message": "Requested entity was not found."},
			})
		}
	})

	mux.HandleFunc("POST /gmail/v1/users/me/messages/{id}/modify", func(w http.ResponseWriter, r *http.Request) {
		var req map[string][]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.modifies = append(f.modifies, req)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id")})
	})

	mux.HandleFunc("POST /gmail/v1/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		_ = json.Unmarshal(body, &req)
		f.mu.Lock()
		f.sentRaw = req["raw"]
		f.sentTID = req["threadId"]
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"id": "sent-1", "threadId": req["threadId"]})
	})

	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}/attachments/{att}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"size": 4,
			"data": base64.URLEncoding.EncodeToString([]byte("%PDF")),
		})
	})

	return mux
}

func (f *fakeGmail) locked(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestProvider(t *testing.T) (*Provider, *fakeGmail) {
	t.Helper()

	fake := &fakeGmail{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test"})
	p, err := New(context.Background(), ts,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return p, fake
}

func TestProviderList(t *testing.T) {
	p, fake := newTestProvider(t)

	ids, err := p.List(context.Background(), "is:unread", 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids)
	fake.locked(func() {
		assert.Equal(t, "is:unread", fake.query)
		assert.Equal(t, "100", fake.max)
	})
}

func TestProviderGet(t *testing.T) {
	p, _ := newTestProvider(t)

	msg, err := p.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "t1", msg.ThreadID)
	assert.True(t, msg.HasLabel(source.LabelUnread))
	assert.Equal(t, time.UnixMilli(1709280000000).UTC(), msg.InternalDate)
	assert.Equal(t, "Afspraak", msg.Header("subject"))
	require.Len(t, msg.Payload.Parts, 1)
	assert.Equal(t, "text/plain", msg.Payload.Parts[0].MIMEType)
	assert.NotEmpty(t, msg.Payload.Parts[0].Body.Data)
}

func TestProviderErrorMapping(t *testing.T) {
	p, _ := newTestProvider(t)

	_, err := p.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, source.ErrMessageNotFound))

	_, err = p.Get(context.Background(), "expired")
	require.Error(t, err)
	assert.True(t, source.IsAuthError(err))

	// Client errors do not open the breaker.
	assert.Equal(t, "closed", p.BreakerState())
}

func TestProviderModifySendAttachment(t *testing.T) {
	p, fake := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Modify(ctx, "m1", nil, []string{source.LabelUnread}))
	fake.locked(func() {
		require.Len(t, fake.modifies, 1)
		assert.Equal(t, []string{"UNREAD"}, fake.modifies[0]["removeLabelIds"])
	})

	id, err := p.Send(ctx, []byte("To: a@example.nl\r\n\r\nhoi"), "t1")
	require.NoError(t, err)
	assert.Equal(t, "sent-1", id)
	var sentRaw string
	fake.locked(func() {
		assert.Equal(t, "t1", fake.sentTID)
		sentRaw = fake.sentRaw
	})
	raw, err := base64.URLEncoding.DecodeString(sentRaw)
	require.NoError(t, err)
	assert.Equal(t, "To: a@example.nl\r\n\r\nhoi", string(raw))

	data, err := p.GetAttachment(ctx, "m1", "att-1")
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
}

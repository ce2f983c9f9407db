package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mondzorg/inbox/internal/logger"
	"github.com/mondzorg/inbox/internal/model"
	"github.com/mondzorg/inbox/internal/store"
	"github.com/mondzorg/inbox/internal/testutil"
)

func TestUpsertInsertsThenUpdates(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	first, err := s.Upsert(ctx, testutil.ProviderMessage("abc123", "Eerste onderwerp"))
	require.NoError(t, err)
	assert.False(t, first.WasUpdate)
	assert.NotZero(t, first.ID)

	second, err := s.Upsert(ctx, testutil.ProviderMessage("abc123", "Tweede onderwerp"))
	require.NoError(t, err)
	assert.True(t, second.WasUpdate)
	assert.Equal(t, first.ID, second.ID)

	all, err := s.List(ctx, model.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Tweede onderwerp", all[0].Subject)
}

func TestUpsertPreservesDashboardFields(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	res, err := s.Upsert(ctx, testutil.ProviderMessage("m-1", "Afspraak"))
	require.NoError(t, err)

	require.NoError(t, s.Patch(ctx, res.ID, model.MessagePatch{
		Starred:        logger.Ptr(true),
		Notes:          logger.Ptr("terugbellen"),
		ResponseStatus: logger.Ptr("responded"),
		Priority:       logger.Ptr(model.UrgencyHigh),
		ReadStatus:     logger.Ptr(true),
	}))

	again := testutil.ProviderMessage("m-1", "Afspraak (bijgewerkt)")
	again.Category = model.CategoryAppointment
	again.ReadStatus = false
	_, err = s.Upsert(ctx, again)
	require.NoError(t, err)

	got, err := s.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "Afspraak (bijgewerkt)", got.Subject)
	assert.Equal(t, model.CategoryAppointment, got.Category)
	assert.True(t, got.Starred)
	assert.Equal(t, "terugbellen", got.Notes)
	assert.Equal(t, "responded", got.ResponseStatus)
	assert.Equal(t, model.UrgencyHigh, got.Priority)
	assert.True(t, got.ReadStatus, "re-ingestion must not mark a read message unread")
}

func TestUpsertReadStatusMovesForward(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	res, err := s.Upsert(ctx, testutil.ProviderMessage("m-2", "Vraag"))
	require.NoError(t, err)

	read := testutil.ProviderMessage("m-2", "Vraag")
	read.ReadStatus = true
	_, err = s.Upsert(ctx, read)
	require.NoError(t, err)

	got, err := s.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, got.ReadStatus)
}

func TestUpsertRequiresProviderID(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.Upsert(context.Background(), &model.Message{Subject: "x"})
	require.ErrorIs(t, err, store.ErrNoProviderID)
}

func TestUpsertRoundTripsContent(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	html := "<p>Hallo</p>"
	msg := testutil.ProviderMessage("m-3", "Factuur")
	msg.PlainText = ""
	msg.HTMLText = &html
	msg.SenderName = "Jan Jansen"
	msg.ThreadID = "t-9"
	msg.ProviderMessageID = "<abc@example.nl>"
	msg.Attachments = []model.Attachment{{
		Filename: "factuur.pdf", MIMEType: "application/pdf", SizeBytes: 1024, AttachmentRef: "att-1",
	}}
	msg.ExtractedInfo = &model.ExtractedInfo{Name: "Jan", KeyPoints: []string{"factuur"}}
	msg.SuggestedResponse = "Beste Jan"

	res, err := s.Upsert(ctx, msg)
	require.NoError(t, err)

	got, err := s.GetByProviderID(ctx, "m-3")
	require.NoError(t, err)
	assert.Equal(t, res.ID, got.ID)
	require.NotNil(t, got.HTMLText)
	assert.Equal(t, html, *got.HTMLText)
	assert.Equal(t, "Hallo", got.PlainText)
	assert.Equal(t, "Jan Jansen", got.SenderName)
	assert.Equal(t, "t-9", got.ThreadID)
	assert.Equal(t, "<abc@example.nl>", got.ProviderMessageID)
	assert.Equal(t, msg.Attachments, got.Attachments)
	require.NotNil(t, got.ExtractedInfo)
	assert.Equal(t, "Jan", got.ExtractedInfo.Name)
	assert.Equal(t, "Beste Jan", got.SuggestedResponse)
	assert.Equal(t, msg.Timestamp, got.Timestamp)
	assert.Equal(t, model.ResponseStatusPending, got.ResponseStatus)
	assert.Equal(t, model.UrgencyMedium, got.Priority)
	assert.Equal(t, model.SourceEmail, got.Source)
}

func TestUpsertDerivesPlainTextFromHTML(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	html := "<p>Hallo, ik heb <b>pijn</b></p>"
	msg := testutil.ProviderMessage("html-only", "Kiespijn")
	msg.PlainText = ""
	msg.HTMLText = &html

	res, err := s.Upsert(ctx, msg)
	require.NoError(t, err)
	got, err := s.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hallo, ik heb pijn", got.PlainText)

	id, err := s.CreateSubmission(ctx, &model.Message{
		Sender:   "form@example.nl",
		HTMLText: &html,
	})
	require.NoError(t, err)
	got, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Hallo, ik heb pijn", got.PlainText)
}

func TestGetNotFound(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, 42)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetByProviderID(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentUpsertSameProviderID(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "inbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Upsert(ctx, testutil.ProviderMessage("dup", fmt.Sprintf("subject %d", i)))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	all, err := s.List(ctx, model.MessageFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateSubmission(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSubmission(ctx, &model.Message{
		Sender:    "form@example.nl",
		Subject:   "Contactformulier",
		PlainText: "Graag terugbellen",
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.ProviderID)
	assert.Equal(t, model.SourceForm, got.Source)
	assert.Equal(t, model.CategoryGeneral, got.Category)
	assert.NotNil(t, got.Attachments)

	// Form records never collide on the provider id constraint.
	_, err = s.CreateSubmission(ctx, &model.Message{Subject: "Nog een"})
	require.NoError(t, err)
}

func TestListFilters(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seed := []struct {
		pid      string
		subject  string
		category model.Category
		read     bool
	}{
		{"a", "Afspraak maandag", model.CategoryAppointment, false},
		{"b", "Kosten kroon", model.CategoryPricing, true},
		{"c", "Kiespijn", model.CategoryEmergency, false},
	}
	ids := map[string]int64{}
	for i, sd := range seed {
		m := testutil.ProviderMessage(sd.pid, sd.subject)
		m.Category = sd.category
		m.ReadStatus = sd.read
		m.Timestamp = base.Add(time.Duration(i) * time.Hour)
		res, err := s.Upsert(ctx, m)
		require.NoError(t, err)
		ids[sd.pid] = res.ID
	}
	_, err := s.CreateSubmission(ctx, &model.Message{Subject: "Formulier", Timestamp: base.Add(-time.Hour)})
	require.NoError(t, err)

	all, err := s.List(ctx, model.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "Kiespijn", all[0].Subject, "newest first")

	unread, err := s.List(ctx, model.MessageFilter{ReadStatus: logger.Ptr(false)})
	require.NoError(t, err)
	assert.Len(t, unread, 3)

	pricing, err := s.List(ctx, model.MessageFilter{Category: logger.Ptr(model.CategoryPricing)})
	require.NoError(t, err)
	require.Len(t, pricing, 1)
	assert.Equal(t, ids["b"], pricing[0].ID)

	forms, err := s.List(ctx, model.MessageFilter{Source: logger.Ptr(model.SourceForm)})
	require.NoError(t, err)
	require.Len(t, forms, 1)

	search, err := s.List(ctx, model.MessageFilter{Query: logger.Ptr("kroon")})
	require.NoError(t, err)
	require.Len(t, search, 1)

	page, err := s.List(ctx, model.MessageFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "Kosten kroon", page[0].Subject)

	require.NoError(t, s.Patch(ctx, ids["a"], model.MessagePatch{Archived: logger.Ptr(true)}))
	active, err := s.List(ctx, model.MessageFilter{})
	require.NoError(t, err)
	assert.Len(t, active, 3)
	archived, err := s.List(ctx, model.MessageFilter{Archived: logger.Ptr(true)})
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, ids["a"], archived[0].ID)
}

func TestPatchErrors(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	res, err := s.Upsert(ctx, testutil.ProviderMessage("p", "x"))
	require.NoError(t, err)

	require.ErrorIs(t, s.Patch(ctx, res.ID, model.MessagePatch{}), store.ErrEmptyPatch)
	require.ErrorIs(t, s.Patch(ctx, 999, model.MessagePatch{Starred: logger.Ptr(true)}), store.ErrNotFound)
	require.ErrorIs(t, s.Patch(ctx, res.ID, model.MessagePatch{
		Category: logger.Ptr(model.Category("Spam")),
	}), store.ErrInvalidPatch)
	require.ErrorIs(t, s.Patch(ctx, res.ID, model.MessagePatch{
		Priority: logger.Ptr(model.Urgency("urgent")),
	}), store.ErrInvalidPatch)
}

func TestBulkPatch(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	var ids []int64
	for _, pid := range []string{"x1", "x2", "x3"} {
		res, err := s.Upsert(ctx, testutil.ProviderMessage(pid, pid))
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}

	n, err := s.BulkPatch(ctx, []int64{ids[0], ids[2], 9999}, model.MessagePatch{
		ReadStatus: logger.Ptr(true),
		Category:   logger.Ptr(model.CategoryComplaint),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	unread, err := s.List(ctx, model.MessageFilter{ReadStatus: logger.Ptr(false)})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, ids[1], unread[0].ID)

	n, err = s.BulkPatch(ctx, nil, model.MessagePatch{Starred: logger.Ptr(true)})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.BulkPatch(ctx, ids, model.MessagePatch{})
	require.ErrorIs(t, err, store.ErrEmptyPatch)
}

func TestStats(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	today := testutil.ProviderMessage("s1", "Pijn")
	today.Category = model.CategoryEmergency
	today.Timestamp = time.Now()
	_, err := s.Upsert(ctx, today)
	require.NoError(t, err)

	for _, pid := range []string{"s2", "s3"} {
		old := testutil.ProviderMessage(pid, "Afspraak")
		old.Category = model.CategoryAppointment
		old.Timestamp = time.Now().Add(-48 * time.Hour)
		_, err := s.Upsert(ctx, old)
		require.NoError(t, err)
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Today)
	assert.Equal(t, []model.CategoryCount{
		{Category: model.CategoryAppointment, Count: 2},
		{Category: model.CategoryEmergency, Count: 1},
	}, stats.ByCategory)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mondzorg/inbox/internal/model"
	"github.com/mondzorg/inbox/internal/source/email"
)

// ErrInvalidPatch is returned when a patch carries an unknown category or
// priority.
var ErrInvalidPatch = errors.New("invalid patch")

const messageColumns = `
	id, provider_id, sender, sender_name, subject, timestamp,
	thread_id, message_id, in_reply_to,
	plain_text, html_text, attachments,
	category, urgency, extracted_info, suggested_response,
	read_status, starred, response_status, priority, notes, archived,
	source, created_at, updated_at`

// messageRow is the column layout of the messages table.
type messageRow struct {
	ID                int64          `db:"id"`
	ProviderID        sql.NullString `db:"provider_id"`
	Sender            string         `db:"sender"`
	SenderName        string         `db:"sender_name"`
	Subject           string         `db:"subject"`
	Timestamp         int64          `db:"timestamp"`
	ThreadID          string         `db:"thread_id"`
	MessageID         string         `db:"message_id"`
	InReplyTo         string         `db:"in_reply_to"`
	PlainText         string         `db:"plain_text"`
	HTMLText          sql.NullString `db:"html_text"`
	Attachments       string         `db:"attachments"`
	Category          string         `db:"category"`
	Urgency           string         `db:"urgency"`
	ExtractedInfo     sql.NullString `db:"extracted_info"`
	SuggestedResponse string         `db:"suggested_response"`
	ReadStatus        bool           `db:"read_status"`
	Starred           bool           `db:"starred"`
	ResponseStatus    string         `db:"response_status"`
	Priority          string         `db:"priority"`
	Notes             string         `db:"notes"`
	Archived          bool           `db:"archived"`
	Source            string         `db:"source"`
	CreatedAt         int64          `db:"created_at"`
	UpdatedAt         int64          `db:"updated_at"`
}

func newMessageRow(m *model.Message) (messageRow, error) {
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return messageRow{}, fmt.Errorf("marshaling attachments: %w", err)
	}

	row := messageRow{
		ID:                m.ID,
		Sender:            m.Sender,
		SenderName:        m.SenderName,
		Subject:           m.Subject,
		Timestamp:         toMillis(m.Timestamp),
		ThreadID:          m.ThreadID,
		MessageID:         m.ProviderMessageID,
		InReplyTo:         m.InReplyTo,
		PlainText:         m.PlainText,
		Attachments:       string(attachments),
		Category:          string(m.Category),
		Urgency:           string(m.Urgency),
		SuggestedResponse: m.SuggestedResponse,
		ReadStatus:        m.ReadStatus,
		Starred:           m.Starred,
		ResponseStatus:    m.ResponseStatus,
		Priority:          string(m.Priority),
		Notes:             m.Notes,
		Archived:          m.Archived,
		Source:            string(m.Source),
		CreatedAt:         toMillis(m.CreatedAt),
		UpdatedAt:         toMillis(m.UpdatedAt),
	}
	if m.ProviderID != nil {
		row.ProviderID = sql.NullString{String: *m.ProviderID, Valid: true}
	}
	if m.HTMLText != nil {
		row.HTMLText = sql.NullString{String: *m.HTMLText, Valid: true}
	}
	if m.ExtractedInfo != nil {
		info, err := json.Marshal(m.ExtractedInfo)
		if err != nil {
			return messageRow{}, fmt.Errorf("marshaling extracted info: %w", err)
		}
		row.ExtractedInfo = sql.NullString{String: string(info), Valid: true}
	}
	return row, nil
}

func (r messageRow) toModel() (model.Message, error) {
	m := model.Message{
		ID:                r.ID,
		Sender:            r.Sender,
		SenderName:        r.SenderName,
		Subject:           r.Subject,
		Timestamp:         fromMillis(r.Timestamp),
		ThreadID:          r.ThreadID,
		ProviderMessageID: r.MessageID,
		InReplyTo:         r.InReplyTo,
		PlainText:         r.PlainText,
		Category:          model.Category(r.Category),
		Urgency:           model.Urgency(r.Urgency),
		SuggestedResponse: r.SuggestedResponse,
		ReadStatus:        r.ReadStatus,
		Starred:           r.Starred,
		ResponseStatus:    r.ResponseStatus,
		Priority:          model.Urgency(r.Priority),
		Notes:             r.Notes,
		Archived:          r.Archived,
		Source:            model.Source(r.Source),
		CreatedAt:         fromMillis(r.CreatedAt),
		UpdatedAt:         fromMillis(r.UpdatedAt),
	}
	if r.ProviderID.Valid {
		pid := r.ProviderID.String
		m.ProviderID = &pid
	}
	if r.HTMLText.Valid {
		html := r.HTMLText.String
		m.HTMLText = &html
	}

	m.Attachments = []model.Attachment{}
	if r.Attachments != "" {
		if err := json.Unmarshal([]byte(r.Attachments), &m.Attachments); err != nil {
			return model.Message{}, fmt.Errorf("unmarshaling attachments of %d: %w", r.ID, err)
		}
	}
	if r.ExtractedInfo.Valid && r.ExtractedInfo.String != "" {
		var info model.ExtractedInfo
		if err := json.Unmarshal([]byte(r.ExtractedInfo.String), &info); err != nil {
			return model.Message{}, fmt.Errorf("unmarshaling extracted info of %d: %w", r.ID, err)
		}
		m.ExtractedInfo = &info
	}
	return m, nil
}

// Upsert stores a provider message keyed by its provider id. The insert
// and the fallback update run in one transaction; a UNIQUE violation from
// a concurrent writer is retried as an update.
func (s *SQLiteStore) Upsert(
	ctx context.Context,
	msg *model.Message,
) (UpsertResult, error) {
	if msg.ProviderID == nil || *msg.ProviderID == "" {
		return UpsertResult{}, ErrNoProviderID
	}
	msg.Normalize(email.HTMLToText)

	now := s.now().UTC()
	msg.UpdatedAt = now
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	row, err := newMessageRow(msg)
	if err != nil {
		return UpsertResult{}, err
	}

	var result UpsertResult
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		id, found, err := lookupProviderID(ctx, tx, *msg.ProviderID)
		if err != nil {
			return err
		}
		if found {
			result = UpsertResult{ID: id, WasUpdate: true}
			return refreshIngested(ctx, tx, id, row)
		}

		result, err = insertOrRefresh(ctx, tx, *msg.ProviderID, row)
		return err
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upserting %s: %w", *msg.ProviderID, err)
	}

	msg.ID = result.ID
	return result, nil
}

func lookupProviderID(
	ctx context.Context, tx *sqlx.Tx, providerID string,
) (int64, bool, error) {
	var id int64
	err := tx.GetContext(ctx, &id, "SELECT id FROM messages WHERE provider_id = ?", providerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("looking up provider id: %w", err)
	}
	return id, true, nil
}

// insertOrRefresh inserts row and falls back to refreshing the existing
// record when the provider id is already taken.
func insertOrRefresh(
	ctx context.Context, tx *sqlx.Tx, providerID string, row messageRow,
) (UpsertResult, error) {
	id, err := insertRow(ctx, tx, row)
	if isUniqueViolation(err) {
		id, found, err := lookupProviderID(ctx, tx, providerID)
		if err != nil {
			return UpsertResult{}, err
		}
		if !found {
			return UpsertResult{}, fmt.Errorf("provider id %s: unique violation without row", providerID)
		}
		return UpsertResult{ID: id, WasUpdate: true}, refreshIngested(ctx, tx, id, row)
	}
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{ID: id}, nil
}

func insertRow(ctx context.Context, tx *sqlx.Tx, row messageRow) (int64, error) {
	res, err := tx.NamedExecContext(ctx, `
		INSERT INTO messages (
			provider_id, sender, sender_name, subject, timestamp,
			thread_id, message_id, in_reply_to,
			plain_text, html_text, attachments,
			category, urgency, extracted_info, suggested_response,
			read_status, starred, response_status, priority, notes, archived,
			source, created_at, updated_at
		) VALUES (
			:provider_id, :sender, :sender_name, :subject, :timestamp,
			:thread_id, :message_id, :in_reply_to,
			:plain_text, :html_text, :attachments,
			:category, :urgency, :extracted_info, :suggested_response,
			:read_status, :starred, :response_status, :priority, :notes, :archived,
			:source, :created_at, :updated_at
		)`, row)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// refreshIngested overwrites the fields owned by ingestion. Starred,
// notes, priority, response status and archived belong to the dashboard
// and are left alone; read status only ever moves from unread to read.
func refreshIngested(ctx context.Context, tx *sqlx.Tx, id int64, row messageRow) error {
	row.ID = id
	_, err := tx.NamedExecContext(ctx, `
		UPDATE messages SET
			sender = :sender,
			sender_name = :sender_name,
			subject = :subject,
			timestamp = :timestamp,
			thread_id = :thread_id,
			message_id = :message_id,
			in_reply_to = :in_reply_to,
			plain_text = :plain_text,
			html_text = :html_text,
			attachments = :attachments,
			category = :category,
			urgency = :urgency,
			extracted_info = :extracted_info,
			suggested_response = :suggested_response,
			read_status = MAX(read_status, :read_status),
			source = :source,
			updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("updating message %d: %w", id, err)
	}
	return nil
}

// CreateSubmission inserts a record without a provider id.
func (s *SQLiteStore) CreateSubmission(
	ctx context.Context,
	msg *model.Message,
) (int64, error) {
	msg.ProviderID = nil
	if msg.Source == "" {
		msg.Source = model.SourceForm
	}
	msg.Normalize(email.HTMLToText)

	now := s.now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	row, err := newMessageRow(msg)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		id, err = insertRow(ctx, tx, row)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("creating submission: %w", err)
	}

	msg.ID = id
	return id, nil
}

// Get retrieves a single message by its internal id.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*model.Message, error) {
	return s.getOne(ctx, "id = ?", id)
}

// GetByProviderID retrieves a single message by its provider id.
func (s *SQLiteStore) GetByProviderID(
	ctx context.Context,
	providerID string,
) (*model.Message, error) {
	return s.getOne(ctx, "provider_id = ?", providerID)
}

func (s *SQLiteStore) getOne(ctx context.Context, where string, arg any) (*model.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, "SELECT "+messageColumns+" FROM messages WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}

	m, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List retrieves messages matching filter, newest first.
func (s *SQLiteStore) List(
	ctx context.Context,
	filter model.MessageFilter,
) ([]model.Message, error) {
	var conditions []string
	var args []any

	if filter.ReadStatus != nil {
		conditions = append(conditions, "read_status = ?")
		args = append(args, *filter.ReadStatus)
	}
	if filter.Starred != nil {
		conditions = append(conditions, "starred = ?")
		args = append(args, *filter.Starred)
	}
	if filter.Category != nil {
		conditions = append(conditions, "category = ?")
		args = append(args, string(*filter.Category))
	}
	if filter.Source != nil {
		conditions = append(conditions, "source = ?")
		args = append(args, string(*filter.Source))
	}
	if filter.Archived != nil {
		conditions = append(conditions, "archived = ?")
		args = append(args, *filter.Archived)
	} else {
		conditions = append(conditions, "archived = 0")
	}
	if filter.Query != nil && *filter.Query != "" {
		conditions = append(conditions,
			"(subject LIKE ? OR sender LIKE ? OR sender_name LIKE ? OR plain_text LIKE ?)")
		q := "%" + *filter.Query + "%"
		args = append(args, q, q, q, q)
	}

	query := "SELECT " + messageColumns + " FROM messages WHERE " +
		strings.Join(conditions, " AND ") +
		" ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	messages := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// patchAssignments turns the set fields of patch into SQL assignments.
func patchAssignments(patch model.MessagePatch, now time.Time) ([]string, []any, error) {
	if patch.Empty() {
		return nil, nil, ErrEmptyPatch
	}

	var sets []string
	var args []any

	if patch.ReadStatus != nil {
		sets = append(sets, "read_status = ?")
		args = append(args, *patch.ReadStatus)
	}
	if patch.Starred != nil {
		sets = append(sets, "starred = ?")
		args = append(args, *patch.Starred)
	}
	if patch.Priority != nil {
		if !patch.Priority.Valid() {
			return nil, nil, fmt.Errorf("%w: priority %q", ErrInvalidPatch, *patch.Priority)
		}
		sets = append(sets, "priority = ?")
		args = append(args, string(*patch.Priority))
	}
	if patch.ResponseStatus != nil {
		sets = append(sets, "response_status = ?")
		args = append(args, *patch.ResponseStatus)
	}
	if patch.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *patch.Notes)
	}
	if patch.Category != nil {
		if !patch.Category.Valid() {
			return nil, nil, fmt.Errorf("%w: category %q", ErrInvalidPatch, *patch.Category)
		}
		sets = append(sets, "category = ?")
		args = append(args, string(*patch.Category))
	}
	if patch.Archived != nil {
		sets = append(sets, "archived = ?")
		args = append(args, *patch.Archived)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, toMillis(now))
	return sets, args, nil
}

// Patch updates the given fields of one message.
func (s *SQLiteStore) Patch(
	ctx context.Context,
	id int64,
	patch model.MessagePatch,
) error {
	sets, args, err := patchAssignments(patch, s.now())
	if err != nil {
		return err
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("patching message %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("patching message %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// BulkPatch applies patch to every listed message and returns how many
// rows changed. Unknown ids are skipped.
func (s *SQLiteStore) BulkPatch(
	ctx context.Context,
	ids []int64,
	patch model.MessagePatch,
) (int64, error) {
	sets, args, err := patchAssignments(patch, s.now())
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	query, inArgs, err := sqlx.In(
		"UPDATE messages SET "+strings.Join(sets, ", ")+" WHERE id IN (?)",
		append(args, ids)...)
	if err != nil {
		return 0, fmt.Errorf("building bulk patch: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), inArgs...)
	if err != nil {
		return 0, fmt.Errorf("bulk patching %d messages: %w", len(ids), err)
	}
	return res.RowsAffected()
}

// Stats counts active messages: in total, received since local midnight
// and per category.
func (s *SQLiteStore) Stats(ctx context.Context) (*model.MessageStats, error) {
	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	stats := &model.MessageStats{ByCategory: []model.CategoryCount{}}

	err := s.db.GetContext(ctx, &stats.Total,
		"SELECT COUNT(*) FROM messages WHERE archived = 0")
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}

	err = s.db.GetContext(ctx, &stats.Today,
		"SELECT COUNT(*) FROM messages WHERE archived = 0 AND timestamp >= ?",
		toMillis(midnight))
	if err != nil {
		return nil, fmt.Errorf("counting today's messages: %w", err)
	}

	err = s.db.SelectContext(ctx, &stats.ByCategory, `
		SELECT category, COUNT(*) AS count
		FROM messages
		WHERE archived = 0
		GROUP BY category
		ORDER BY count DESC, category`)
	if err != nil {
		return nil, fmt.Errorf("counting by category: %w", err)
	}

	return stats, nil
}

package storage

import (
	"context"
	"database/sql"
	"time"
)

// CaseRecord is the persisted history of one arbitration case.
type CaseRecord struct {
	MessageID  string
	GuildID    string
	ChannelID  string
	SubjectID  string
	Occurrence int
	Outcome    string
	ResolvedBy string
	OpenedAt   time.Time
	ClosedAt   *time.Time
}

func (s *Store) RecordCaseOpened(ctx context.Context, rec CaseRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO arbitration_cases (message_id, guild_id, channel_id, subject_id, occurrence, opened_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING
	`, rec.MessageID, rec.GuildID, rec.ChannelID, rec.SubjectID, rec.Occurrence, rec.OpenedAt.Unix())
	return err
}

func (s *Store) RecordCaseClosed(ctx context.Context, messageID, outcome, resolvedBy string, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE arbitration_cases
		SET outcome = ?, resolved_by = ?, closed_at = ?
		WHERE message_id = ? AND closed_at IS NULL
	`, outcome, resolvedBy, closedAt.Unix(), messageID)
	return err
}

func (s *Store) ListCases(ctx context.Context, guildID string, since time.Time) ([]CaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, guild_id, channel_id, subject_id, occurrence, outcome, resolved_by, opened_at, closed_at
		FROM arbitration_cases
		WHERE guild_id = ? AND opened_at >= ?
		ORDER BY opened_at DESC
	`, guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CaseRecord
	for rows.Next() {
		var rec CaseRecord
		var opened int64
		var closed sql.NullInt64
		if err := rows.Scan(&rec.MessageID, &rec.GuildID, &rec.ChannelID, &rec.SubjectID, &rec.Occurrence, &rec.Outcome, &rec.ResolvedBy, &opened, &closed); err != nil {
			return nil, err
		}
		rec.OpenedAt = time.Unix(opened, 0)
		if closed.Valid {
			value := time.Unix(closed.Int64, 0)
			rec.ClosedAt = &value
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

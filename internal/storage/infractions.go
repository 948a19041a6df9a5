package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UserInfraction is the persisted occurrence count for one user and category.
type UserInfraction struct {
	GuildID    string
	UserID     string
	Category   string
	CountTotal int
	LastAt     time.Time
	LastAction string
}

const infractionColumns = `guild_id, user_id, category, count_total, last_at, COALESCE(last_action, '')`

// GetInfraction returns a zero count for users with no record.
func (s *Store) GetInfraction(ctx context.Context, guildID, userID, category string) (UserInfraction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+infractionColumns+`
		FROM user_infractions
		WHERE guild_id = ? AND user_id = ? AND category = ?
	`, guildID, userID, category)

	inf, err := scanInfraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return UserInfraction{GuildID: guildID, UserID: userID, Category: category}, nil
	}
	return inf, err
}

// ListInfractions returns the guild's highest counts first.
func (s *Store) ListInfractions(ctx context.Context, guildID, category string, limit int) ([]UserInfraction, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+infractionColumns+`
		FROM user_infractions
		WHERE guild_id = ? AND category = ?
		ORDER BY count_total DESC, last_at DESC
		LIMIT ?
	`, guildID, category, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserInfraction
	for rows.Next() {
		inf, err := scanInfraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inf)
	}
	return out, rows.Err()
}

// IncrementInfraction adds one to the count in a single statement and returns
// the new value. Counts never go down.
func (s *Store) IncrementInfraction(ctx context.Context, guildID, userID, category, lastAction string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_infractions (guild_id, user_id, category, count_total, last_at, last_action)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(guild_id, user_id, category) DO UPDATE SET
			count_total = user_infractions.count_total + 1,
			last_at = excluded.last_at,
			last_action = excluded.last_action
		RETURNING count_total
	`, guildID, userID, category, time.Now().Unix(), lastAction).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInfraction(row rowScanner) (UserInfraction, error) {
	var (
		inf    UserInfraction
		lastAt int64
	)
	if err := row.Scan(&inf.GuildID, &inf.UserID, &inf.Category, &inf.CountTotal, &lastAt, &inf.LastAction); err != nil {
		return UserInfraction{}, err
	}
	inf.LastAt = time.Unix(lastAt, 0)
	return inf, nil
}

package storage

import (
	"context"
	"strings"
)

// AddDomainAllow stores the domain lower-cased; adding it twice is a no-op.
func (s *Store) AddDomainAllow(ctx context.Context, guildID, domain string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domain_allowlist (guild_id, domain) VALUES (?, ?)
		ON CONFLICT(guild_id, domain) DO NOTHING
	`, guildID, strings.ToLower(domain))
	return err
}

// RemoveDomainAllow reports whether the domain was on the list.
func (s *Store) RemoveDomainAllow(ctx context.Context, guildID, domain string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM domain_allowlist WHERE guild_id = ? AND domain = ?
	`, guildID, strings.ToLower(domain))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) ListDomainAllow(ctx context.Context, guildID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain FROM domain_allowlist WHERE guild_id = ? ORDER BY domain
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	domains := make([]string, 0)
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, err
		}
		domains = append(domains, domain)
	}
	return domains, rows.Err()
}

package analytics

import (
	"context"
	"time"

	"sentinel-spamguard/internal/storage"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type Report struct {
	Total    int
	ByLevel  map[string]int
	ByEvent  map[string]int
	Cases    int
	Outcomes map[string]int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		ByLevel:  make(map[string]int),
		ByEvent:  make(map[string]int),
		Outcomes: make(map[string]int),
	}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}

	cases, err := s.store.ListCases(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}
	for _, rec := range cases {
		report.Cases++
		if rec.ClosedAt == nil {
			report.Outcomes["open"]++
			continue
		}
		report.Outcomes[rec.Outcome]++
	}
	return report, nil
}

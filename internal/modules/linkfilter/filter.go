package linkfilter

import (
	"context"
	"fmt"
	"sync/atomic"

	"sentinel-spamguard/internal/utils"
)

type AllowlistStore interface {
	ListDomainAllow(ctx context.Context, guildID string) ([]string, error)
}

type Verdict struct {
	Blocked bool
	URL     string
	Host    string
}

// Filter flags messages linking to hosts outside the allowlist.
type Filter struct {
	enabled atomic.Bool
	static  map[string]struct{}
	store   AllowlistStore
}

func New(enabled bool, allowlist []string, store AllowlistStore) *Filter {
	f := &Filter{static: make(map[string]struct{}, len(allowlist)), store: store}
	for _, domain := range allowlist {
		if host := utils.NormalizeHost(domain); host != "" {
			f.static[host] = struct{}{}
		}
	}
	f.enabled.Store(enabled)
	return f
}

func (f *Filter) SetEnabled(enabled bool) bool {
	return f.enabled.Swap(enabled)
}

func (f *Filter) Enabled() bool {
	return f.enabled.Load()
}

// Check returns the first link in content whose host is not allowed.
// A failed allowlist lookup blocks nothing.
func (f *Filter) Check(ctx context.Context, guildID, content string) (Verdict, error) {
	if !f.Enabled() {
		return Verdict{}, nil
	}
	urls := utils.ExtractURLs(content)
	if len(urls) == 0 {
		return Verdict{}, nil
	}

	allowlist, err := f.allowlist(ctx, guildID)
	if err != nil {
		return Verdict{}, err
	}

	for _, raw := range urls {
		host, ok := utils.LinkHost(raw)
		if !ok {
			continue
		}
		if utils.HostAllowed(host, allowlist) {
			continue
		}
		return Verdict{Blocked: true, URL: raw, Host: host}, nil
	}
	return Verdict{}, nil
}

func (f *Filter) allowlist(ctx context.Context, guildID string) (map[string]struct{}, error) {
	if f.store == nil {
		return f.static, nil
	}
	stored, err := f.store.ListDomainAllow(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("load domain allowlist: %w", err)
	}
	if len(stored) == 0 {
		return f.static, nil
	}
	merged := make(map[string]struct{}, len(f.static)+len(stored))
	for host := range f.static {
		merged[host] = struct{}{}
	}
	for _, domain := range stored {
		if host := utils.NormalizeHost(domain); host != "" {
			merged[host] = struct{}{}
		}
	}
	return merged, nil
}

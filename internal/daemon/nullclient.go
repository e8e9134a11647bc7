package daemon

import (
	"context"

	"github.com/overwatch-scan/overwatch/internal/domain"
)

// nullMapClient stands in for domain.MapClient when the caller of New
// supplies no domain.MapClientFactory. Every call fails with
// ErrMapClientUnconfigured rather than panicking, so a daemon wired
// without an upstream client still starts and reports the problem per
// visit instead of crashing.
type nullMapClient struct{}

func newNullMapClientFactory() domain.MapClientFactory {
	return func(domain.Account) domain.MapClient { return nullMapClient{} }
}

func (nullMapClient) SetAuthentication(domain.Account) error { return domain.ErrMapClientUnconfigured }
func (nullMapClient) SetPosition(lat, lon, altitude float64) error {
	return domain.ErrMapClientUnconfigured
}
func (nullMapClient) SetProxy(*domain.Proxy) error { return domain.ErrMapClientUnconfigured }
func (nullMapClient) GetMapObjects(ctx context.Context, cellIDs []uint64) (domain.MapObjects, error) {
	return domain.MapObjects{}, domain.ErrMapClientUnconfigured
}
func (nullMapClient) CheckChallenge(ctx context.Context) (string, bool, error) {
	return "", false, domain.ErrMapClientUnconfigured
}
func (nullMapClient) VerifyChallenge(ctx context.Context, responseToken string) error {
	return domain.ErrMapClientUnconfigured
}

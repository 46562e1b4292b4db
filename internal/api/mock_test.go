package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/portal-resolver/internal/batch"
	"github.com/sells-group/portal-resolver/internal/review"
	"github.com/sells-group/portal-resolver/internal/tiers"
	"github.com/sells-group/portal-resolver/internal/verify"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, geoid string, force bool) (*tiers.Result, error) {
	args := m.Called(ctx, geoid, force)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tiers.Result), args.Error(1)
}

type mockBatch struct {
	mock.Mock
}

func (m *mockBatch) Seed(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockBatch) summary(args mock.Arguments) (*batch.Summary, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*batch.Summary), args.Error(1)
}

func (m *mockBatch) SearchSweep(ctx context.Context, n int) (*batch.Summary, error) {
	return m.summary(m.Called(ctx, n))
}

func (m *mockBatch) CrawlSweep(ctx context.Context, n int) (*batch.Summary, error) {
	return m.summary(m.Called(ctx, n))
}

func (m *mockBatch) ParseSweep(ctx context.Context, n int) (*batch.Summary, error) {
	return m.summary(m.Called(ctx, n))
}

func (m *mockBatch) ClassifyEndpoints(ctx context.Context, countyGeoID string) (int64, error) {
	args := m.Called(ctx, countyGeoID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockBatch) Freshness(ctx context.Context, jurisdictionID, url string) (*batch.FreshnessReport, error) {
	args := m.Called(ctx, jurisdictionID, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*batch.FreshnessReport), args.Error(1)
}

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Sweep(ctx context.Context, size int) (*verify.Summary, error) {
	args := m.Called(ctx, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*verify.Summary), args.Error(1)
}

type mockReview struct {
	mock.Mock
}

func (m *mockReview) List(ctx context.Context, page, perPage int) (*review.Page, error) {
	args := m.Called(ctx, page, perPage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*review.Page), args.Error(1)
}

func (m *mockReview) Approve(ctx context.Context, id string, o review.Overrides) (*review.Summary, error) {
	args := m.Called(ctx, id, o)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*review.Summary), args.Error(1)
}

func (m *mockReview) Reject(ctx context.Context, id string, o review.Overrides) (*review.Summary, error) {
	args := m.Called(ctx, id, o)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*review.Summary), args.Error(1)
}

type mockPinger struct {
	mock.Mock
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

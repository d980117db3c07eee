package usecase

import (
	"io"
	"log/slog"
	"time"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/apikey"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/clock"
)

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClock() *clock.Mock {
	return clock.NewMock(testEpoch)
}

func testTenant(placeID, key string) *domain.Tenant {
	return &domain.Tenant{PlaceID: placeID, Name: placeID, KeyHash: apikey.Hash(key), CreatedAt: testEpoch, UpdatedAt: testEpoch}
}

func strPtr(v string) *string { return &v }

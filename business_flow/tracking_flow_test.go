package businessflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTrackView(t *testing.T) {
	db, fx := setupFlowDB(t)
	repos := newTestRepos(db)
	ctx := context.Background()

	venue, err := fx.CreateVenue("Trattoria Da Mario", "Bologna", models.TierBasic)
	require.NoError(t, err)

	flow := NewTrackingFlow(repos.venue, repos.view, repos.use, zap.NewNop()).(*TrackingFlowImpl)
	now := march(3, 10, 0)
	flow.now = func() time.Time { return now }

	user := utils.ToPtr("student-1")
	created, err := flow.TrackView(ctx, venue.ID, user, "", strings.Repeat("a", 600))
	require.NoError(t, err)
	assert.True(t, created)

	// same viewer within the same minute
	now = now.Add(20 * time.Second)
	created, err = flow.TrackView(ctx, venue.ID, user, "Milano", "ua")
	require.NoError(t, err)
	assert.False(t, created)

	// anonymous viewers are bucketed separately
	created, err = flow.TrackView(ctx, venue.ID, nil, "", "ua")
	require.NoError(t, err)
	assert.True(t, created)

	now = now.Add(time.Minute)
	created, err = flow.TrackView(ctx, venue.ID, user, "", "ua")
	require.NoError(t, err)
	assert.True(t, created)

	var views []*models.VenueView
	require.NoError(t, db.DB.Order("id ASC").Find(&views).Error)
	require.Len(t, views, 3)
	assert.Equal(t, "Bologna", views[0].City, "city falls back to the venue")
	assert.Len(t, views[0].UserAgent, 512)

	_, err = flow.TrackView(ctx, 4242, user, "", "ua")
	assert.True(t, IsVenueNotFound(err))
}

func TestExpireCodes(t *testing.T) {
	db, fx := setupFlowDB(t)
	repos := newTestRepos(db)
	ctx := context.Background()

	venue, err := fx.CreateVenue("Bar Centrale", "Milano", models.TierBasic)
	require.NoError(t, err)

	overdue, err := fx.CreateDiscountUse(venue.ID, nil, march(1, 10, 0), nil)
	require.NoError(t, err)
	confirmed, err := fx.CreateDiscountUse(venue.ID, nil, march(1, 10, 0), utils.ToPtr(march(1, 10, 5)))
	require.NoError(t, err)
	fresh, err := fx.CreateDiscountUse(venue.ID, nil, march(1, 11, 55), nil)
	require.NoError(t, err)

	flow := NewTrackingFlow(repos.venue, repos.view, repos.use, zap.NewNop()).(*TrackingFlowImpl)
	flow.now = fixedClock(march(1, 12, 0))

	n, err := flow.ExpireCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	status := func(id uint) string {
		var d models.DiscountUse
		require.NoError(t, db.DB.First(&d, id).Error)
		return d.Status
	}
	assert.Equal(t, models.DiscountStatusExpired, status(overdue.ID))
	assert.Equal(t, models.DiscountStatusConfirmed, status(confirmed.ID))
	assert.Equal(t, models.DiscountStatusGenerated, status(fresh.ID))

	n, err = flow.ExpireCodes(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

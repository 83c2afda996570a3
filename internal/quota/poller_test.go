package quota_test

import (
	"context"
	"testing"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshByCookieIDReenablesExhaustedModel(t *testing.T) {
	h := newHarness(t)
	cred := h.credential(h.user.ID, false, 0)
	h.provider.SetQuota(cred.CookieID, testModel, 0.8)

	poller := quota.NewPoller(h.store, h.provider)
	rows, err := poller.RefreshByCookieID(context.Background(), cred.CookieID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.8, rows[0].Quota, 1e-9)
	assert.Equal(t, models.QuotaEnabled, rows[0].Status)

	cand, err := h.engine.Selector().Select(context.Background(), h.user.ID, testModel)
	require.NoError(t, err)
	assert.Equal(t, cred.ID, cand.Credential.ID)
}

func TestRefreshByCookieIDSkipsAdminDisabledRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cred := h.credential(h.user.ID, false, 0.5)
	_, err := h.store.SetModelQuotaStatus(ctx, h.user.ID, cred.CookieID, testModel, false)
	require.NoError(t, err)

	poller := quota.NewPoller(h.store, h.provider)
	_, err = poller.RefreshByCookieID(ctx, cred.CookieID)
	assert.ErrorIs(t, err, quota.ErrNoRefreshTargets)
	assert.Zero(t, h.provider.RefreshCalls())

	_, err = poller.RefreshByCookieID(ctx, "  ")
	assert.Error(t, err)
}

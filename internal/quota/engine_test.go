package quota_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/provider/mock"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatSettlesSharedSpendAgainstPool(t *testing.T) {
	h := newHarness(t, mock.WithCost(0.2))
	h.setPreference(1, false)
	cred := h.credential(h.user.ID, true, 0.3)
	require.InDelta(t, 2.0, h.pool(h.user.ID), 1e-9)

	session, err := h.engine.Chat(context.Background(), h.user.ID, chatRequest(false))
	require.NoError(t, err)
	resp, err := quota.Collect(session)
	require.NoError(t, err)
	assert.Equal(t, "Hello from mock provider", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)

	row, ok := session.Settlement()
	require.True(t, ok)
	assert.Equal(t, cred.ID, row.CredentialID)
	assert.InDelta(t, 0.3, row.QuotaBefore, 1e-9)
	assert.InDelta(t, 0.1, row.QuotaAfter, 1e-9)
	assert.InDelta(t, 0.2, row.QuotaConsumed, 1e-9)
	assert.InDelta(t, 0.2, row.PoolDebited, 1e-9)
	assert.True(t, row.IsShared)
	assert.False(t, row.Partial)
	assert.Equal(t, "req-test", row.RequestID)
	assert.InDelta(t, 1.8, h.pool(h.user.ID), 1e-9)

	rows, err := h.store.ListCredentialQuotas(context.Background(), h.user.ID, cred.CookieID)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, rows[0].Quota, 1e-9)
}

func TestChatDedicatedSpendLeavesPoolAlone(t *testing.T) {
	h := newHarness(t, mock.WithCost(0.25))
	h.credential(h.user.ID, true, 0.9)
	h.setPool(h.user.ID, 1.5)
	h.credential(h.user.ID, false, 0.9)

	session, err := h.engine.Chat(context.Background(), h.user.ID, chatRequest(false))
	require.NoError(t, err)
	_, err = quota.Collect(session)
	require.NoError(t, err)

	row, ok := session.Settlement()
	require.True(t, ok)
	assert.False(t, row.IsShared)
	assert.InDelta(t, 0.25, row.QuotaConsumed, 1e-9)
	assert.Zero(t, row.PoolDebited)
	assert.InDelta(t, 1.5, h.pool(h.user.ID), 1e-9)
}

func TestChatExhaustionWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.setPreference(1, false)
	for i := 0; i < 6; i++ {
		cred := h.credential(h.user.ID, true, 0.4)
		h.provider.SetQuota(cred.CookieID, testModel, 0)
	}
	_, err := h.engine.Chat(context.Background(), h.user.ID, chatRequest(true))
	var exhausted *quota.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 5, exhausted.Attempts)
	assert.Zero(t, h.logCount())
	assert.Zero(t, h.provider.ChatCalls())
	pool := h.poolRow(h.user.ID)
	assert.InDelta(t, 2.0, pool.MaxQuota, 1e-9, "only the untried credential still counts toward the cap")
	assert.InDelta(t, pool.MaxQuota, pool.Balance, 1e-9, "the pool is clamped, never debited")
}

func TestChatRetriesOnAnotherCredentialWhenProviderFails(t *testing.T) {
	h := newHarness(t)
	broken := h.credential(h.user.ID, false, 0.9)
	healthy := h.credential(h.user.ID, false, 0.9)
	h.provider.FailChat(broken.CookieID, errors.New("upstream 503"))

	for i := 0; i < 10; i++ {
		session, err := h.engine.Chat(context.Background(), h.user.ID, chatRequest(false))
		require.NoError(t, err)
		assert.Equal(t, healthy.ID, session.Candidate().Credential.ID)
		_, err = quota.Collect(session)
		require.NoError(t, err)
	}

	var brokenLogs int64
	require.NoError(t, h.store.DB().Model(&models.ConsumptionLog{}).
		Where("cookie_id = ?", broken.CookieID).Count(&brokenLogs).Error)
	assert.Zero(t, brokenLogs)
	assert.Equal(t, int64(10), h.logCount())
}

func TestChatSurfacesProviderCallError(t *testing.T) {
	h := newHarness(t)
	cred := h.credential(h.user.ID, true, 0.9)
	h.setPreference(1, false)
	upstream := errors.New("upstream 500")
	h.provider.FailChat(cred.CookieID, upstream)

	_, err := h.engine.Chat(context.Background(), h.user.ID, chatRequest(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, quota.ErrProviderCall)
	assert.ErrorIs(t, err, upstream)
	var callErr *quota.ProviderCallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, cred.CookieID, callErr.CookieID)
	assert.Zero(t, h.logCount())
	assert.InDelta(t, 2.0, h.pool(h.user.ID), 1e-9)
}

func TestCancelledStreamStillSettles(t *testing.T) {
	h := newHarness(t, mock.WithCost(0.1))
	h.credential(h.user.ID, false, 0.9)
	ctx, cancel := context.WithCancel(context.Background())

	session, err := h.engine.Chat(ctx, h.user.ID, chatRequest(true))
	require.NoError(t, err)
	_, err = session.Next()
	require.NoError(t, err)
	cancel()
	require.NoError(t, session.Close())

	row, ok := session.Settlement()
	require.True(t, ok)
	assert.True(t, row.Partial)
	assert.True(t, row.Streamed)
	assert.InDelta(t, 0.1, row.QuotaConsumed, 1e-9)
	assert.Equal(t, int64(1), h.logCount())
}

func TestStreamErrorSettlesPartial(t *testing.T) {
	upstream := errors.New("connection reset")
	h := newHarness(t, mock.WithStreamError(upstream))
	h.credential(h.user.ID, false, 0.9)

	session, err := h.engine.Chat(context.Background(), h.user.ID, chatRequest(true))
	require.NoError(t, err)
	_, err = quota.Collect(session)
	assert.ErrorIs(t, err, upstream)

	row, ok := session.Settlement()
	require.True(t, ok)
	assert.True(t, row.Partial)
}

func TestMissingFinalReadingDropsSpend(t *testing.T) {
	h := newHarness(t, mock.WithCost(0.3))
	h.setPreference(1, false)
	cred := h.credential(h.user.ID, true, 0.9)

	session, err := h.engine.Chat(context.Background(), h.user.ID, chatRequest(false))
	require.NoError(t, err)
	h.provider.FailRefresh(cred.CookieID, errors.New("quota endpoint down"))
	_, err = quota.Collect(session)
	require.NoError(t, err)

	_, ok := session.Settlement()
	assert.False(t, ok)
	assert.ErrorIs(t, session.SettleErr(), quota.ErrNoFinalReading)
	assert.Zero(t, h.logCount())
	assert.InDelta(t, 2.0, h.pool(h.user.ID), 1e-9)
}

func TestInlineReadingSkipsFinalRefresh(t *testing.T) {
	h := newHarness(t, mock.WithInlineReading(), mock.WithCost(0.05))
	h.credential(h.user.ID, false, 0.5)

	session, err := h.engine.Chat(context.Background(), h.user.ID, chatRequest(true))
	require.NoError(t, err)
	for {
		_, errNext := session.Next()
		if errors.Is(errNext, io.EOF) {
			break
		}
		require.NoError(t, errNext)
	}
	require.NoError(t, session.Close())

	assert.Equal(t, int64(1), h.provider.RefreshCalls(), "only the selection refresh")
	row, ok := session.Settlement()
	require.True(t, ok)
	assert.False(t, row.Partial)
	assert.InDelta(t, 0.05, row.QuotaConsumed, 1e-9)
}

func TestSessionSettlesOnce(t *testing.T) {
	h := newHarness(t)
	h.credential(h.user.ID, false, 0.9)

	session, err := h.engine.Chat(context.Background(), h.user.ID, chatRequest(false))
	require.NoError(t, err)
	_, err = quota.Collect(session)
	require.NoError(t, err)
	require.NoError(t, session.Close())
	require.NoError(t, session.Close())
	assert.Equal(t, int64(1), h.logCount())
}

func TestConcurrentSharedChatsDebitPoolExactly(t *testing.T) {
	h := newHarness(t, mock.WithCost(0.01))
	h.setPreference(1, false)
	h.credential(h.user.ID, true, 1)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, err := h.engine.Chat(context.Background(), h.user.ID, chatRequest(false))
			if err != nil {
				errs <- err
				return
			}
			_, err = quota.Collect(session)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var debited float64
	require.NoError(t, h.store.DB().Model(&models.ConsumptionLog{}).
		Select("COALESCE(SUM(pool_debited), 0)").Scan(&debited).Error)
	assert.Equal(t, int64(n), h.logCount())
	assert.InDelta(t, 2.0-debited, h.pool(h.user.ID), 1e-9)
}

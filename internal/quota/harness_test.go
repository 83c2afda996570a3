package quota_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	dbutil "github.com/WonderhoyTeam/AntiHub-Backend/internal/db"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/provider/mock"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/store"
	"github.com/stretchr/testify/require"
)

const testModel = "gemini-2.5-pro"

type harness struct {
	t        *testing.T
	store    *store.Store
	provider *mock.Provider
	engine   *quota.Engine
	user     models.User
}

func newHarness(t *testing.T, opts ...mock.Option) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:quota_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := dbutil.Open(dsn, dbutil.Options{})
	require.NoError(t, errOpen)
	t.Cleanup(func() { _ = dbutil.Close(conn) })
	require.NoError(t, dbutil.Migrate(conn))

	st := store.New(conn, 2)
	provider := mock.New(opts...)
	user, errUser := st.CreateUser(context.Background(), "alice", "hash", false)
	require.NoError(t, errUser)

	return &harness{
		t:        t,
		store:    st,
		provider: provider,
		engine:   quota.NewEngine(st, st, st, provider, quota.DefaultOptions()),
		user:     user,
	}
}

// credential registers a credential whose cached and live quota are both set to q.
func (h *harness) credential(ownerID uint64, shared bool, q float64) models.Credential {
	h.t.Helper()
	cred, err := h.store.CreateCredential(context.Background(), store.CreateCredentialInput{
		UserID:   ownerID,
		Name:     "cred",
		IsShared: shared,
		Models:   []string{testModel},
	})
	require.NoError(h.t, err)
	h.cache(cred, q)
	h.provider.SetQuota(cred.CookieID, testModel, q)
	return cred
}

// cache overwrites the stored quota reading without touching the live quota.
func (h *harness) cache(cred models.Credential, q float64) {
	h.t.Helper()
	_, err := h.store.ApplyQuotaReading(context.Background(), cred.Quotas[0].ID, quota.Reading{Quota: q})
	require.NoError(h.t, err)
}

func (h *harness) setPool(userID uint64, balance float64) {
	h.t.Helper()
	require.NoError(h.t, h.store.DB().Model(&models.SharedQuotaPool{}).
		Where("user_id = ? AND model_name = ?", userID, testModel).
		Update("balance", balance).Error)
}

func (h *harness) pool(userID uint64) float64 {
	h.t.Helper()
	balance, err := h.store.PoolBalance(context.Background(), userID, testModel)
	require.NoError(h.t, err)
	return balance
}

func (h *harness) poolRow(userID uint64) models.SharedQuotaPool {
	h.t.Helper()
	var pool models.SharedQuotaPool
	require.NoError(h.t, h.store.DB().Where("user_id = ? AND model_name = ?", userID, testModel).Take(&pool).Error)
	return pool
}

func (h *harness) logCount() int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.store.DB().Model(&models.ConsumptionLog{}).Count(&n).Error)
	return n
}

func (h *harness) otherUser(name string) models.User {
	h.t.Helper()
	user, err := h.store.CreateUser(context.Background(), name, "hash", false)
	require.NoError(h.t, err)
	return user
}

func (h *harness) setPreference(preferShared int, onlyDedicated bool) {
	h.t.Helper()
	_, err := h.store.UpdatePreference(context.Background(), h.user.ID, store.PreferenceUpdate{
		PreferShared:     &preferShared,
		UseOnlyDedicated: &onlyDedicated,
	})
	require.NoError(h.t, err)
}

func chatRequest(stream bool) quota.ChatRequest {
	return quota.ChatRequest{
		Model:     testModel,
		Messages:  []quota.Message{{Role: "user", Content: "hello"}},
		Stream:    stream,
		RequestID: "req-test",
	}
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache() (*Cache, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return &Cache{client: db}, mock
}

func TestGet_DecodesStoredValue(t *testing.T) {
	c, mock := newTestCache()
	ctx := context.Background()

	mock.ExpectGet("funding:BTC").SetVal(`{"rate":0.0001}`)

	var dst struct {
		Rate float64 `json:"rate"`
	}
	require.NoError(t, c.Get(ctx, "funding:BTC", &dst))
	require.Equal(t, 0.0001, dst.Rate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_MissingKeyReturnsErrNotFound(t *testing.T) {
	c, mock := newTestCache()
	ctx := context.Background()

	mock.ExpectGet("funding:ETH").RedisNil()

	var dst map[string]any
	err := c.Get(ctx, "funding:ETH", &dst)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPut_EncodesAndSetsWithTTL(t *testing.T) {
	c, mock := newTestCache()
	ctx := context.Background()

	mock.Regexp().ExpectSet("funding:BTC", `.*`, time.Minute).SetVal("OK")

	require.NoError(t, c.Put(ctx, "funding:BTC", map[string]float64{"rate": 0.0002}, time.Minute))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_RemovesKey(t *testing.T) {
	c, mock := newTestCache()
	ctx := context.Background()

	mock.ExpectDel("funding:BTC").SetVal(1)

	require.NoError(t, c.Delete(ctx, "funding:BTC"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_ScansByPrefix(t *testing.T) {
	c, mock := newTestCache()
	ctx := context.Background()

	mock.ExpectScan(0, "funding:*", 0).SetVal([]string{"funding:BTC", "funding:ETH"}, 0)

	keys, err := c.List(ctx, "funding:")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"funding:BTC", "funding:ETH"}, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_PropagatesRedisError(t *testing.T) {
	c, mock := newTestCache()
	ctx := context.Background()

	mock.ExpectGet("funding:BTC").SetErr(redis.TxFailedErr)

	var dst map[string]any
	err := c.Get(ctx, "funding:BTC", &dst)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_Set(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheWithClient(db)

	value := testForecast(30.5)
	raw, err := json.Marshal(value)
	require.NoError(t, err)

	mock.ExpectSet("weather:10007", raw, DefaultTTL).SetVal("OK")

	require.NoError(t, c.Set(context.Background(), "10007", value, DefaultTTL))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_Set_InvalidTTL(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheWithClient(db)

	err := c.Set(context.Background(), "10007", testForecast(1), 0)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_Get_Hit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheWithClient(db)

	value := testForecast(30.5)
	raw, err := json.Marshal(value)
	require.NoError(t, err)
	mock.ExpectGet("weather:10007").SetVal(string(raw))

	got, ok, err := c.Get(context.Background(), "10007")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.Current.TempC)
	assert.Equal(t, 30.5, *got.Current.TempC)
	assert.Equal(t, "clear sky", got.Current.Condition.Description)
	assert.True(t, value.FetchedAt.Equal(got.FetchedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_Get_Miss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheWithClient(db)

	mock.ExpectGet("weather:latlon:48.8566,2.3522").RedisNil()

	_, ok, err := c.Get(context.Background(), "latlon:48.8566,2.3522")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_Get_Error(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheWithClient(db)

	mock.ExpectGet("weather:10007").SetErr(errors.New("connection refused"))

	_, ok, err := c.Get(context.Background(), "10007")
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis get")
}

func TestRedisCache_Get_CorruptValue(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheWithClient(db)

	mock.ExpectGet("weather:10007").SetVal("not json")

	_, ok, err := c.Get(context.Background(), "10007")
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis decode")
}

func TestRedisCache_Ping(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheWithClient(db)

	mock.ExpectPing().SetVal("PONG")
	assert.NoError(t, c.Ping(context.Background()))

	mock.ExpectPing().SetErr(errors.New("redis connection failed"))
	assert.Error(t, c.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRedisCache_Defaults(t *testing.T) {
	c := NewRedisCache(RedisOptions{Timeout: 250 * time.Millisecond})
	defer c.Close()

	opts := c.client.Options()
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 250*time.Millisecond, opts.ReadTimeout)
}

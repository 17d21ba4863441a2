package cache

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
)

// fakeDynamo is an in-memory table keyed by the "pk" string attribute.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
	failWith error
	batches  int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue), pageSize: 2}
}

func pkOf(m map[string]types.AttributeValue) string {
	return m["pk"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &dynamodb.GetItemOutput{Item: f.items[pkOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[pkOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, pkOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := ""
	if in.FilterExpression != nil {
		for _, v := range in.ExpressionAttributeValues {
			prefix = v.(*types.AttributeValueMemberS).Value
		}
	}
	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := ""
	if in.ExclusiveStartKey != nil {
		start = pkOf(in.ExclusiveStartKey)
	}
	out := &dynamodb.ScanOutput{}
	for _, k := range keys {
		if start != "" && k <= start {
			continue
		}
		if len(out.Items) == f.pageSize {
			out.LastEvaluatedKey = map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pkOf(out.Items[len(out.Items)-1])}}
			break
		}
		if strings.HasPrefix(k, prefix) {
			out.Items = append(out.Items, map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: k}})
		}
	}
	return out, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	for _, reqs := range in.RequestItems {
		for _, req := range reqs {
			delete(f.items, pkOf(req.DeleteRequest.Key))
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func TestDynamoStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Should round trip and expire entries", func(t *testing.T) {
		c := &clock{t: time.Unix(1_700_000_000, 0)}
		store := NewDynamoStore(newFakeDynamo(), "cache", 0)
		store.now = c.Now

		require.NoError(t, store.Set(ctx, "users:list:x", []byte(`[1]`), 30*time.Second))
		v, ok, err := store.Get(ctx, "users:list:x")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte(`[1]`), v)

		c.Advance(30 * time.Second)
		_, ok, err = store.Get(ctx, "users:list:x")
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, _ = store.Get(ctx, "absent")
		assert.False(t, ok)
	})

	t.Run("Should remove a prefix across scan pages", func(t *testing.T) {
		fake := newFakeDynamo()
		store := NewDynamoStore(fake, "cache", time.Minute)
		for _, k := range []string{"users:a", "users:b", "users:c", "orders:a", "users:d"} {
			require.NoError(t, store.Set(ctx, k, []byte("1"), 0))
		}

		require.NoError(t, store.RemoveByPrefix(ctx, "users:"))

		assert.Len(t, fake.items, 1)
		_, ok, _ := store.Get(ctx, "orders:a")
		assert.True(t, ok)

		require.NoError(t, store.Clear(ctx))
		assert.Empty(t, fake.items)
	})

	t.Run("Should remove a single key", func(t *testing.T) {
		store := NewDynamoStore(newFakeDynamo(), "cache", time.Minute)
		require.NoError(t, store.Set(ctx, "k", []byte("1"), 0))
		require.NoError(t, store.Remove(ctx, "k"))
		_, ok, _ := store.Get(ctx, "k")
		assert.False(t, ok)
	})

	t.Run("Should report API errors as unavailable", func(t *testing.T) {
		fake := newFakeDynamo()
		fake.failWith = &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "slow down"}
		store := NewDynamoStore(fake, "cache", time.Minute)

		_, _, err := store.Get(ctx, "k")

		appErr, ok := apperrors.As(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrorTypeUnavailable, appErr.Type)
		assert.Equal(t, "ProvisionedThroughputExceededException", appErr.Details)
	})
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `r2e:users\*:`, escapeGlob("r2e:users*:"))
	assert.Equal(t, `a\?\[b\]`, escapeGlob("a?[b]"))
}

func TestRedisStore_Integration(t *testing.T) {
	addr := os.Getenv("R2E_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("R2E_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	store := NewRedisStore(client, "r2e-test:", time.Minute)
	require.NoError(t, store.Clear(ctx))

	require.NoError(t, store.Set(ctx, "users:a", []byte("1"), 0))
	require.NoError(t, store.Set(ctx, "orders:a", []byte("2"), 0))
	v, ok, err := store.Get(ctx, "users:a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, store.RemoveByPrefix(ctx, "users:"))
	_, ok, _ = store.Get(ctx, "users:a")
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, "orders:a")
	assert.True(t, ok)
	require.NoError(t, store.Clear(ctx))
}

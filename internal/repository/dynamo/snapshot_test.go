package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTable understands the narrow query shapes SnapshotStore issues:
// PK equality, either sort direction, optional limit, and short pages
// when pageSize is set. Like DynamoDB it rejects items over 400 KB.
type fakeTable struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue // PK|SK -> item
	pageSize int
	queries  int
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: map[string]map[string]types.AttributeValue{}}
}

func key(item map[string]types.AttributeValue) (string, string) {
	return item["PK"].(*types.AttributeValueMemberS).Value, item["SK"].(*types.AttributeValueMemberS).Value
}

const maxItemBytes = 400 << 10

func attrSize(v types.AttributeValue) int {
	switch v := v.(type) {
	case *types.AttributeValueMemberS:
		return len(v.Value)
	case *types.AttributeValueMemberN:
		return len(v.Value)
	case *types.AttributeValueMemberL:
		n := 3
		for _, e := range v.Value {
			n += 1 + attrSize(e)
		}
		return n
	default:
		return 1
	}
}

func itemSize(item map[string]types.AttributeValue) int {
	n := 0
	for name, v := range item {
		n += len(name) + attrSize(v)
	}
	return n
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if itemSize(in.Item) > maxItemBytes {
		return nil, errors.New("ValidationException: Item size has exceeded the maximum allowed size")
	}
	pk, sk := key(in.Item)
	f.items[pk+"|"+sk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value

	var matched []map[string]types.AttributeValue
	for _, item := range f.items {
		if p, _ := key(item); p == pk {
			matched = append(matched, item)
		}
	}
	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	sort.Slice(matched, func(i, j int) bool {
		_, a := key(matched[i])
		_, b := key(matched[j])
		if forward {
			return a < b
		}
		return a > b
	})
	if in.ExclusiveStartKey != nil {
		_, start := key(in.ExclusiveStartKey)
		for i, item := range matched {
			if _, sk := key(item); sk == start {
				matched = matched[i+1:]
				break
			}
		}
	}
	limit := len(matched)
	if in.Limit != nil && int(*in.Limit) < limit {
		limit = int(*in.Limit)
	}
	out := &dynamodb.QueryOutput{}
	if f.pageSize > 0 && f.pageSize < limit {
		limit = f.pageSize
		out.LastEvaluatedKey = matched[limit-1]
	}
	out.Items = matched[:limit]
	return out, nil
}

func (f *fakeTable) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, sk := key(in.Key)
	delete(f.items, pk+"|"+sk)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestSnapshotStore_SaveAndLatest(t *testing.T) {
	store := NewSnapshotStore(newFakeTable(), "exigo-snapshots")
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	latest, err := store.LatestSnapshot(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = store.SaveSnapshot(ctx, "acme", []string{"1", "2"}, base)
	require.NoError(t, err)
	saved, err := store.SaveSnapshot(ctx, "acme", []string{"2", "3"}, base.Add(24*time.Hour))
	require.NoError(t, err)
	_, err = store.SaveSnapshot(ctx, "other", []string{"9"}, base.Add(48*time.Hour))
	require.NoError(t, err)

	latest, err = store.LatestSnapshot(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, saved.ID, latest.ID)
	assert.Equal(t, []string{"2", "3"}, latest.ExternalIDs)
	assert.True(t, latest.CapturedAt.Equal(base.Add(24*time.Hour)))
}

func TestSnapshotStore_PruneOldest(t *testing.T) {
	table := newFakeTable()
	table.pageSize = 2
	store := NewSnapshotStore(table, "exigo-snapshots")
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 6; i++ {
		s, err := store.SaveSnapshot(ctx, "acme", []string{"1"}, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	n, err := store.PruneOldest(ctx, "acme", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Greater(t, table.queries, 1, "prune must follow pagination")

	table.pageSize = 0
	list, err := store.ListSnapshots(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[5], list[0].ID)
	assert.Equal(t, ids[3], list[2].ID)
	assert.Equal(t, 1, list[0].Size)
}

func TestSnapshotStore_EmptySnapshot(t *testing.T) {
	store := NewSnapshotStore(newFakeTable(), "exigo-snapshots")
	ctx := context.Background()

	_, err := store.SaveSnapshot(ctx, "acme", nil, time.Now())
	require.NoError(t, err)

	latest, err := store.LatestSnapshot(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Empty(t, latest.ExternalIDs)
}

func sevenDigitIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%07d", 1000000+i)
	}
	return ids
}

func TestSnapshotStore_LargeSnapshotIsChunked(t *testing.T) {
	table := newFakeTable()
	store := NewSnapshotStore(table, "exigo-snapshots")
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	ids := sevenDigitIDs(60000)

	// One item cannot hold this many IDs.
	whole, err := attributevalue.MarshalMap(snapshotItem{PK: "COMPANY#acme", SK: "x", ExternalIDs: ids})
	require.NoError(t, err)
	_, err = table.PutItem(ctx, &dynamodb.PutItemInput{Item: whole})
	require.Error(t, err)

	saved, err := store.SaveSnapshot(ctx, "acme", ids, base)
	require.NoError(t, err)
	assert.Len(t, saved.ExternalIDs, 60000)
	assert.Greater(t, len(table.items), 2, "company item plus at least two chunks")

	table.pageSize = 1
	latest, err := store.LatestSnapshot(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, saved.ID, latest.ID)
	assert.Equal(t, ids, latest.ExternalIDs)

	table.pageSize = 0
	list, err := store.ListSnapshots(ctx, "acme", 5)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 60000, list[0].Size)
}

func TestSnapshotStore_PruneRemovesChunks(t *testing.T) {
	table := newFakeTable()
	store := NewSnapshotStore(table, "exigo-snapshots")
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	_, err := store.SaveSnapshot(ctx, "acme", sevenDigitIDs(60000), base)
	require.NoError(t, err)
	_, err = store.SaveSnapshot(ctx, "acme", []string{"1"}, base.Add(24*time.Hour))
	require.NoError(t, err)

	n, err := store.PruneOldest(ctx, "acme", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, table.items, 1, "chunks of the pruned snapshot are gone")

	latest, err := store.LatestSnapshot(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, latest.ExternalIDs)
}

func TestSnapshotStore_MissingChunkIsAnError(t *testing.T) {
	table := newFakeTable()
	store := NewSnapshotStore(table, "exigo-snapshots")
	ctx := context.Background()

	saved, err := store.SaveSnapshot(ctx, "acme", sevenDigitIDs(60000), time.Now())
	require.NoError(t, err)
	delete(table.items, chunkPartition(saved.ID)+"|"+chunkSortKey(1))

	_, err = store.LatestSnapshot(ctx, "acme")
	assert.ErrorContains(t, err, "incomplete")
}

func TestSplitIDs(t *testing.T) {
	assert.Nil(t, splitIDs(nil, 10))
	assert.Equal(t, [][]string{{"ab", "cd"}, {"ef"}}, splitIDs([]string{"ab", "cd", "ef"}, 10))
	assert.Equal(t, [][]string{{"toolong"}}, splitIDs([]string{"toolong"}, 4))
}

// Package dynamo stores autoship snapshots in DynamoDB, as an alternative
// to the Postgres snapshot table.
//
// Table layout: PK = "COMPANY#<id>", SK = capture time in fixed-width
// RFC 3339 so that string order equals time order. A snapshot whose IDs
// fit in one item stores them inline. Larger ones are split into chunk
// items under PK = "SNAPSHOT#<snapshot id>", SK = "CHUNK#00000".. and the
// company item records the chunk count. Chunks are written before the
// company item, so a snapshot is never visible half written.
package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/ignite/exigo-bridge/internal/domain"
)

const skLayout = "2006-01-02T15:04:05.000000000Z"

// maxChunkBytes keeps each item well under DynamoDB's 400 KB limit.
const maxChunkBytes = 300 << 10

// API is the subset of the DynamoDB client the store uses.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type snapshotItem struct {
	PK          string   `dynamodbav:"PK"`
	SK          string   `dynamodbav:"SK"`
	ID          string   `dynamodbav:"ID"`
	CompanyID   string   `dynamodbav:"CompanyID"`
	ExternalIDs []string `dynamodbav:"ExternalIDs"`
	IDCount     int      `dynamodbav:"IDCount"`
	Chunks      int      `dynamodbav:"Chunks,omitempty"`
}

type chunkItem struct {
	PK          string   `dynamodbav:"PK"`
	SK          string   `dynamodbav:"SK"`
	ExternalIDs []string `dynamodbav:"ExternalIDs"`
}

func chunkPartition(snapshotID string) string { return "SNAPSHOT#" + snapshotID }

func chunkSortKey(i int) string { return fmt.Sprintf("CHUNK#%05d", i) }

// splitIDs cuts ids into runs whose encoded size stays under maxBytes.
func splitIDs(ids []string, maxBytes int) [][]string {
	var chunks [][]string
	start, size := 0, 0
	for i, id := range ids {
		cost := len(id) + 3
		if size+cost > maxBytes && i > start {
			chunks = append(chunks, ids[start:i])
			start, size = i, 0
		}
		size += cost
	}
	if start < len(ids) {
		chunks = append(chunks, ids[start:])
	}
	return chunks
}

// SnapshotStore implements reconcile.SnapshotStore on DynamoDB.
type SnapshotStore struct {
	client    API
	tableName string
}

// NewSnapshotStore creates a store over tableName.
func NewSnapshotStore(client API, tableName string) *SnapshotStore {
	return &SnapshotStore{client: client, tableName: tableName}
}

func partitionKey(companyID string) string { return "COMPANY#" + companyID }

func (s *SnapshotStore) queryCompany(companyID string) *dynamodb.QueryInput {
	in := s.queryPartition(partitionKey(companyID))
	in.ScanIndexForward = aws.Bool(false)
	return in
}

func (s *SnapshotStore) queryPartition(pk string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	}
}

// readChunks reassembles a chunked snapshot's IDs in chunk order.
func (s *SnapshotStore) readChunks(ctx context.Context, it snapshotItem) ([]string, error) {
	ids := make([]string, 0, it.IDCount)
	in := s.queryPartition(chunkPartition(it.ID))
	in.ScanIndexForward = aws.Bool(true)
	read := 0
	for {
		out, err := s.client.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("querying snapshot chunks: %w", err)
		}
		for _, item := range out.Items {
			var c chunkItem
			if err := attributevalue.UnmarshalMap(item, &c); err != nil {
				return nil, fmt.Errorf("unmarshaling snapshot chunk: %w", err)
			}
			ids = append(ids, c.ExternalIDs...)
			read++
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	if read != it.Chunks || len(ids) != it.IDCount {
		return nil, fmt.Errorf("snapshot %s incomplete: %d/%d chunks, %d/%d ids", it.ID, read, it.Chunks, len(ids), it.IDCount)
	}
	return ids, nil
}

func (it snapshotItem) toDomain() (*domain.AutoshipSnapshot, error) {
	at, err := time.Parse(skLayout, it.SK)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot sort key %q: %w", it.SK, err)
	}
	ids := it.ExternalIDs
	if ids == nil {
		ids = []string{}
	}
	return &domain.AutoshipSnapshot{ID: it.ID, CompanyID: it.CompanyID, ExternalIDs: ids, CapturedAt: at}, nil
}

func (s *SnapshotStore) LatestSnapshot(ctx context.Context, companyID string) (*domain.AutoshipSnapshot, error) {
	in := s.queryCompany(companyID)
	in.Limit = aws.Int32(1)
	out, err := s.client.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var it snapshotItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &it); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	if it.Chunks > 0 {
		ids, err := s.readChunks(ctx, it)
		if err != nil {
			return nil, err
		}
		it.ExternalIDs = ids
	}
	return it.toDomain()
}

func (s *SnapshotStore) SaveSnapshot(ctx context.Context, companyID string, externalIDs []string, capturedAt time.Time) (*domain.AutoshipSnapshot, error) {
	it := snapshotItem{
		PK:          partitionKey(companyID),
		SK:          capturedAt.UTC().Format(skLayout),
		ID:          uuid.New().String(),
		CompanyID:   companyID,
		ExternalIDs: externalIDs,
		IDCount:     len(externalIDs),
	}
	if it.ExternalIDs == nil {
		it.ExternalIDs = []string{}
	}
	if chunks := splitIDs(externalIDs, maxChunkBytes); len(chunks) > 1 {
		for i, ids := range chunks {
			if err := s.putChunk(ctx, it.ID, i, ids); err != nil {
				return nil, err
			}
		}
		it.ExternalIDs = nil
		it.Chunks = len(chunks)
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(SK)"),
	})
	if err != nil {
		return nil, fmt.Errorf("putting snapshot to DynamoDB: %w", err)
	}
	it.ExternalIDs = externalIDs
	return it.toDomain()
}

func (s *SnapshotStore) putChunk(ctx context.Context, snapshotID string, i int, ids []string) error {
	av, err := attributevalue.MarshalMap(chunkItem{
		PK:          chunkPartition(snapshotID),
		SK:          chunkSortKey(i),
		ExternalIDs: ids,
	})
	if err != nil {
		return fmt.Errorf("marshaling snapshot chunk: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: av}); err != nil {
		return fmt.Errorf("putting snapshot chunk %d: %w", i, err)
	}
	return nil
}

func (s *SnapshotStore) deleteItem(ctx context.Context, pk, sk string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	return err
}

// keys pages through the company's snapshot items, newest first,
// without their ID lists.
func (s *SnapshotStore) keys(ctx context.Context, companyID string, fn func(it snapshotItem) error) error {
	in := s.queryCompany(companyID)
	in.ProjectionExpression = aws.String("PK, SK, ID, Chunks")
	for {
		out, err := s.client.Query(ctx, in)
		if err != nil {
			return fmt.Errorf("querying snapshots: %w", err)
		}
		for _, item := range out.Items {
			var it snapshotItem
			if err := attributevalue.UnmarshalMap(item, &it); err != nil {
				return fmt.Errorf("unmarshaling snapshot key: %w", err)
			}
			if err := fn(it); err != nil {
				return err
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// PruneOldest deletes all but the newest keep snapshots, chunks first.
func (s *SnapshotStore) PruneOldest(ctx context.Context, companyID string, keep int) (int, error) {
	var stale []snapshotItem
	seen := 0
	err := s.keys(ctx, companyID, func(it snapshotItem) error {
		seen++
		if seen > keep {
			stale = append(stale, it)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, it := range stale {
		for i := 0; i < it.Chunks; i++ {
			if err := s.deleteItem(ctx, chunkPartition(it.ID), chunkSortKey(i)); err != nil {
				return deleted, fmt.Errorf("deleting snapshot %s chunk %d: %w", it.SK, i, err)
			}
		}
		if err := s.deleteItem(ctx, partitionKey(companyID), it.SK); err != nil {
			return deleted, fmt.Errorf("deleting snapshot %s: %w", it.SK, err)
		}
		deleted++
	}
	return deleted, nil
}

// ListSnapshots returns snapshot metadata, newest first.
func (s *SnapshotStore) ListSnapshots(ctx context.Context, companyID string, limit int) ([]domain.SnapshotSummary, error) {
	in := s.queryCompany(companyID)
	in.ProjectionExpression = aws.String("ID, CompanyID, SK, IDCount")
	in.Limit = aws.Int32(int32(limit))
	out, err := s.client.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}

	list := make([]domain.SnapshotSummary, 0, len(out.Items))
	for _, item := range out.Items {
		var it snapshotItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
		}
		at, err := time.Parse(skLayout, it.SK)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot sort key %q: %w", it.SK, err)
		}
		list = append(list, domain.SnapshotSummary{ID: it.ID, CompanyID: it.CompanyID, Size: it.IDCount, CapturedAt: at})
	}
	return list, nil
}

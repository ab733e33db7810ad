package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/zombor/agentcarbon/internal/billing"
	"github.com/zombor/agentcarbon/internal/emission"
)

const (
	FieldID        = "id"
	FieldVector    = "vector"
	FieldPayload   = "payload"
	FieldCreatedAt = "created_at"

	// milvusQueryWindow is the server's default query result cap
	milvusQueryWindow = 16384
)

// milvusClient is the part of client.Client the store uses
type milvusClient interface {
	HasCollection(ctx context.Context, collName string) (bool, error)
	CreateCollection(ctx context.Context, schema *entity.Schema, shardsNum int32, opts ...client.CreateCollectionOption) error
	CreateIndex(ctx context.Context, collName string, fieldName string, idx entity.Index, async bool, opts ...client.IndexOption) error
	LoadCollection(ctx context.Context, collName string, async bool, opts ...client.LoadCollectionOption) error
	Insert(ctx context.Context, collName string, partitionName string, columns ...entity.Column) (entity.Column, error)
	Query(ctx context.Context, collectionName string, partitionNames []string, expr string, outputFields []string, opts ...client.SearchQueryOptionFunc) (client.ResultSet, error)
	Close() error
}

// MilvusStore implements Store on a Milvus collection keyed by the entry
// feature vector, with the full record kept as a JSON payload.
type MilvusStore struct {
	client      milvusClient
	collection  string
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewMilvusStore connects to Milvus and makes sure the collection exists
func NewMilvusStore(ctx context.Context, address, collection string) (*MilvusStore, error) {
	c, err := client.NewClient(ctx, client.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("connecting to milvus: %w", err)
	}
	store, err := NewMilvusStoreWithDeps(ctx, c, collection, UUIDGenerator{}, SystemTime{})
	if err != nil {
		c.Close()
		return nil, err
	}
	return store, nil
}

// NewMilvusStoreWithDeps builds a store over an existing client for testing
func NewMilvusStoreWithDeps(ctx context.Context, c milvusClient, collection string, idGen IDGenerator, timeSrc TimeSource) (*MilvusStore, error) {
	s := &MilvusStore{
		client:      c,
		collection:  collection,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MilvusStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.collection, err)
	}
	if !exists {
		slog.Info("Creating milvus collection", "collection", s.collection)
		schema := entity.NewSchema().
			WithName(s.collection).
			WithDescription("processed invoices and their emissions").
			WithField(entity.NewField().WithName(FieldID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName(FieldVector).WithDataType(entity.FieldTypeFloatVector).WithDim(VectorSize)).
			WithField(entity.NewField().WithName(FieldPayload).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
			WithField(entity.NewField().WithName(FieldCreatedAt).WithDataType(entity.FieldTypeInt64))

		if err := s.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("creating collection %s: %w", s.collection, err)
		}
		idx, err := entity.NewIndexAUTOINDEX(entity.COSINE)
		if err != nil {
			return fmt.Errorf("building index: %w", err)
		}
		if err := s.client.CreateIndex(ctx, s.collection, FieldVector, idx, false); err != nil {
			return fmt.Errorf("creating index on %s: %w", FieldVector, err)
		}
	}
	if err := s.client.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("loading collection %s: %w", s.collection, err)
	}
	return nil
}

// Put inserts one entry
func (s *MilvusStore) Put(ctx context.Context, fields billing.Fields, emissions emission.Record) (string, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()
	data, err := encodePayload(fields, emissions, now)
	if err != nil {
		return "", err
	}

	_, err = s.client.Insert(ctx, s.collection, "",
		entity.NewColumnVarChar(FieldID, []string{id}),
		entity.NewColumnFloatVector(FieldVector, VectorSize, [][]float32{Vector(fields, emissions)}),
		entity.NewColumnVarChar(FieldPayload, []string{string(data)}),
		entity.NewColumnInt64(FieldCreatedAt, []int64{now.UnixNano()}),
	)
	if err != nil {
		return "", fmt.Errorf("inserting entry into milvus: %w", err)
	}
	return id, nil
}

// List returns the most recent entries
func (s *MilvusStore) List(ctx context.Context, limit int) ([]Entry, error) {
	entries, err := s.query(ctx, fmt.Sprintf("%s != \"\"", FieldID), milvusQueryWindow)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get retrieves an entry by id
func (s *MilvusStore) Get(ctx context.Context, id string) (*Entry, error) {
	entries, err := s.query(ctx, fmt.Sprintf("%s == %s", FieldID, strconv.Quote(id)), 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &entries[0], nil
}

func (s *MilvusStore) query(ctx context.Context, expr string, limit int) ([]Entry, error) {
	rs, err := s.client.Query(ctx, s.collection, nil, expr,
		[]string{FieldID, FieldPayload},
		client.WithLimit(int64(limit)),
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, fmt.Errorf("querying milvus: %w", err)
	}
	if len(rs) == 0 {
		return []Entry{}, nil
	}

	idCol, ok := rs.GetColumn(FieldID).(*entity.ColumnVarChar)
	if !ok {
		return nil, fmt.Errorf("milvus result missing %s column", FieldID)
	}
	payloadCol, ok := rs.GetColumn(FieldPayload).(*entity.ColumnVarChar)
	if !ok {
		return nil, fmt.Errorf("milvus result missing %s column", FieldPayload)
	}

	ids, payloads := idCol.Data(), payloadCol.Data()
	entries := make([]Entry, 0, len(ids))
	for i := range ids {
		if i >= len(payloads) {
			break
		}
		entry, err := decodeEntry(ids[i], []byte(payloads[i]))
		if err != nil {
			slog.Warn("Skipping unreadable history entry", "id", ids[i], "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close closes the milvus connection
func (s *MilvusStore) Close() error {
	return s.client.Close()
}

package history

import (
	"context"
	"errors"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	g "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/agentcarbon/internal/billing"
	"github.com/zombor/agentcarbon/internal/emission"
)

// fakeMilvus keeps inserted rows in memory
type fakeMilvus struct {
	exists     bool
	created    *entity.Schema
	indexField string
	loaded     bool
	ids        []string
	payloads   []string
	vectors    [][]float32
	lastExpr   string
	insertErr  error
	queryErr   error
}

func (f *fakeMilvus) HasCollection(ctx context.Context, collName string) (bool, error) {
	return f.exists, nil
}

func (f *fakeMilvus) CreateCollection(ctx context.Context, schema *entity.Schema, shardsNum int32, opts ...client.CreateCollectionOption) error {
	f.created = schema
	f.exists = true
	return nil
}

func (f *fakeMilvus) CreateIndex(ctx context.Context, collName string, fieldName string, idx entity.Index, async bool, opts ...client.IndexOption) error {
	f.indexField = fieldName
	return nil
}

func (f *fakeMilvus) LoadCollection(ctx context.Context, collName string, async bool, opts ...client.LoadCollectionOption) error {
	f.loaded = true
	return nil
}

func (f *fakeMilvus) Insert(ctx context.Context, collName string, partitionName string, columns ...entity.Column) (entity.Column, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	for _, col := range columns {
		switch c := col.(type) {
		case *entity.ColumnVarChar:
			if c.Name() == FieldID {
				f.ids = append(f.ids, c.Data()...)
			} else if c.Name() == FieldPayload {
				f.payloads = append(f.payloads, c.Data()...)
			}
		case *entity.ColumnFloatVector:
			f.vectors = append(f.vectors, c.Data()...)
		}
	}
	return nil, nil
}

func (f *fakeMilvus) Query(ctx context.Context, collectionName string, partitionNames []string, expr string, outputFields []string, opts ...client.SearchQueryOptionFunc) (client.ResultSet, error) {
	f.lastExpr = expr
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var ids, payloads []string
	for i, id := range f.ids {
		if strings.Contains(expr, "==") && !strings.Contains(expr, `"`+id+`"`) {
			continue
		}
		ids = append(ids, id)
		payloads = append(payloads, f.payloads[i])
	}
	if len(ids) == 0 {
		return client.ResultSet{}, nil
	}
	return client.ResultSet{
		entity.NewColumnVarChar(FieldID, ids),
		entity.NewColumnVarChar(FieldPayload, payloads),
	}, nil
}

func (f *fakeMilvus) Close() error {
	return nil
}

var _ = g.Describe("MilvusStore", func() {
	var (
		ctx   context.Context
		fake  *fakeMilvus
		store *MilvusStore
		err   error
	)

	g.BeforeEach(func() {
		ctx = context.Background()
		fake = &fakeMilvus{}
	})

	g.JustBeforeEach(func() {
		store, err = NewMilvusStoreWithDeps(ctx, fake, "agentcarbon_docs", &sequenceIDGenerator{}, &mockTimeSource{now: day(2024, 1, 1)})
	})

	g.When("the collection does not exist", func() {
		g.It("should create and index it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.created).NotTo(BeNil())
			Expect(fake.created.CollectionName).To(Equal("agentcarbon_docs"))
			Expect(fake.indexField).To(Equal(FieldVector))
			Expect(fake.loaded).To(BeTrue())
		})
	})

	g.When("the collection exists", func() {
		g.BeforeEach(func() {
			fake.exists = true
		})

		g.It("should only load it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.created).To(BeNil())
			Expect(fake.loaded).To(BeTrue())
		})
	})

	g.Describe("Put", func() {
		g.It("should store the feature vector", func() {
			fields := billing.Fields{EnergyKWh: billing.Float(100), WaterGallons: billing.Float(10)}
			id, putErr := store.Put(ctx, fields, emission.Compute(fields))
			Expect(putErr).NotTo(HaveOccurred())
			Expect(id).To(Equal("id-001"))
			Expect(fake.vectors).To(HaveLen(1))
			Expect(fake.vectors[0]).To(HaveLen(VectorSize))
			Expect(fake.vectors[0][0]).To(Equal(float32(100)))
			Expect(fake.vectors[0][1]).To(Equal(float32(10)))
		})

		g.When("the insert fails", func() {
			g.BeforeEach(func() {
				fake.insertErr = errors.New("unavailable")
			})

			g.It("should return the error", func() {
				_, putErr := store.Put(ctx, billing.Fields{}, emission.Compute(billing.Fields{}))
				Expect(putErr).To(MatchError(ContainSubstring("unavailable")))
			})
		})
	})

	g.Describe("List", func() {
		g.JustBeforeEach(func() {
			for i := 1; i <= 3; i++ {
				f := billing.Fields{GasTherms: billing.Float(float64(i))}
				_, putErr := store.Put(ctx, f, emission.Compute(f))
				Expect(putErr).NotTo(HaveOccurred())
			}
		})

		g.It("should order by creation time, newest first", func() {
			entries, listErr := store.List(ctx, 2)
			Expect(listErr).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].ID).To(Equal("id-003"))
			Expect(entries[1].ID).To(Equal("id-002"))
			Expect(entries[0].Emissions).NotTo(BeNil())
		})
	})

	g.Describe("Get", func() {
		g.It("should return ErrNotFound for an unknown id", func() {
			_, getErr := store.Get(ctx, "nope")
			Expect(errors.Is(getErr, ErrNotFound)).To(BeTrue())
			Expect(fake.lastExpr).To(Equal(`id == "nope"`))
		})
	})
})

//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"checkline/internal/docstore"
	pgstore "checkline/internal/docstore/postgres"
	"checkline/pkg/platform/sentinel"
	"checkline/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *pgstore.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = pgstore.New(s.postgres.Pool, s.postgres.DSN)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) TearDownSuite() {
	s.NoError(s.store.Close())
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "documents"))
}

func (s *PostgresStoreSuite) TestCRUD() {
	ctx := context.Background()

	id, err := s.store.Add(ctx, docstore.Units, docstore.Fields{
		"name":      "Plant A",
		"managerId": "m-1",
		"active":    docstore.Unset,
	})
	s.Require().NoError(err)

	doc, err := s.store.Get(ctx, docstore.Units, id)
	s.Require().NoError(err)
	s.Equal("Plant A", doc.Fields["name"])
	s.NotContains(doc.Fields, "active")

	s.Require().NoError(s.store.Update(ctx, docstore.Units, id, docstore.Fields{"active": false}))
	doc, err = s.store.Get(ctx, docstore.Units, id)
	s.Require().NoError(err)
	s.Equal(false, doc.Fields["active"])
	s.Equal("m-1", doc.Fields["managerId"])

	s.Require().NoError(s.store.Delete(ctx, docstore.Units, id))
	s.True(errors.Is(s.store.Delete(ctx, docstore.Units, id), sentinel.ErrNotFound))
	s.True(errors.Is(s.store.Update(ctx, docstore.Units, id, docstore.Fields{"a": 1}), sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestQueryContainmentAndOrdering() {
	ctx := context.Background()
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for i, role := range []string{"COORDINATOR", "MANAGER", "COORDINATOR"} {
		_, err := s.store.Add(ctx, docstore.Users, docstore.Fields{
			"role":      role,
			"name":      role,
			"createdAt": t0.Add(time.Duration(i) * time.Hour),
		})
		s.Require().NoError(err)
	}

	q := docstore.Query{}.Where("role", "COORDINATOR").Ordered("createdAt", true)
	docs, err := s.store.Query(ctx, docstore.Users, q)
	s.Require().NoError(err)
	s.Require().Len(docs, 2)
	s.True(q.IsSorted(docs))
	s.True(docs[0].CreatedAt().After(docs[1].CreatedAt()))
}

func (s *PostgresStoreSuite) TestSubscribeRedeliversOnNotify() {
	ctx := context.Background()
	snapshots := make(chan []docstore.Document, 16)

	unsubscribe, err := s.store.Subscribe(ctx, docstore.Templates, docstore.Query{},
		func(docs []docstore.Document) { snapshots <- docs }, nil)
	s.Require().NoError(err)
	defer unsubscribe()

	select {
	case docs := <-snapshots:
		s.Empty(docs)
	case <-time.After(5 * time.Second):
		s.FailNow("no initial snapshot")
	}

	_, err = s.store.Add(ctx, docstore.Templates, docstore.Fields{"name": "Daily"})
	s.Require().NoError(err)

	s.Eventually(func() bool {
		select {
		case docs := <-snapshots:
			return len(docs) == 1
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)
}

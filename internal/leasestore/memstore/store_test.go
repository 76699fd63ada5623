package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mvlease/internal/leasestore"
	"mvlease/internal/leasestore/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.RunSuite(t, func(t *testing.T) leasestore.Store {
		return New()
	})
}

func TestClosedStore(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	_, _, err := s.FindOne(context.Background(), leasestore.ByID("a"), leasestore.LinearizablePrimary())
	require.ErrorIs(t, err, leasestore.ErrClosed)
	_, err = s.DeleteOne(context.Background(), leasestore.ByID("a"))
	require.ErrorIs(t, err, leasestore.ErrClosed)
}

func TestReturnedDocumentsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.ReplaceOne(ctx, leasestore.ByID("a"), storetest.SampleDocument("a", 1, ""), leasestore.ReplaceOptions{Upsert: true})
	require.NoError(t, err)

	got, ok, err := s.FindOne(ctx, leasestore.ByID("a"), leasestore.LinearizablePrimary())
	require.NoError(t, err)
	require.True(t, ok)
	got.IndexDefinitionVersionStatusMap["2"] = leasestore.VersionStatus{}

	again, _, err := s.FindOne(ctx, leasestore.ByID("a"), leasestore.LinearizablePrimary())
	require.NoError(t, err)
	require.Len(t, again.IndexDefinitionVersionStatusMap, 1)
	require.Equal(t, 1, s.Len())
}

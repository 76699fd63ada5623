package boltstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mvlease/internal/leasestore"
	"mvlease/internal/leasestore/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.RunSuite(t, func(t *testing.T) leasestore.Store {
		s, err := Open(t.TempDir(), "")
		require.NoError(t, err)
		return s
	})
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir, "leases")
	require.NoError(t, err)
	_, err = s.ReplaceOne(ctx, leasestore.ByID("a"), storetest.SampleDocument("a", 3, "ckpt"), leasestore.ReplaceOptions{Upsert: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(dir, "leases")
	require.NoError(t, err)
	defer reopened.Close()

	doc, ok, err := reopened.FindOne(ctx, leasestore.ByID("a"), leasestore.LinearizablePrimary())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), doc.LeaseVersion)
	require.Equal(t, "ckpt", doc.CommitInfo)
}

func TestCollectionsAreIsolated(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir, "one")
	require.NoError(t, err)
	_, err = s.ReplaceOne(ctx, leasestore.ByID("a"), storetest.SampleDocument("a", 1, ""), leasestore.ReplaceOptions{Upsert: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	other, err := Open(dir, "two")
	require.NoError(t, err)
	defer other.Close()
	docs, err := other.Find(ctx, leasestore.All(), leasestore.LinearizablePrimary())
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open("", "")
	require.Error(t, err)
}

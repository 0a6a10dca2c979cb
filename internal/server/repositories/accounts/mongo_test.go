package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func accountBSON(id string, version int64, now time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "email", Value: id + "@example.com"},
		{Key: "passwordHash", Value: "hash"},
		{Key: "role", Value: "User"},
		{Key: "status", Value: "verified"},
		{Key: "verifiedAt", Value: now},
		{Key: "createdAt", Value: now},
		{Key: "updatedAt", Value: now},
		{Key: "refreshTokens", Value: bson.A{
			bson.D{
				{Key: "id", Value: "r1"},
				{Key: "tokenHash", Value: "h1"},
				{Key: "createdAt", Value: now},
				{Key: "expiresAt", Value: now.Add(time.Hour)},
				{Key: "createdByIp", Value: "1.1.1.1"},
				{Key: "revokedAt", Value: now},
				{Key: "revokedReason", Value: "rotated"},
				{Key: "replacedById", Value: "r2"},
			},
			bson.D{
				{Key: "id", Value: "r2"},
				{Key: "tokenHash", Value: "h2"},
				{Key: "createdAt", Value: now},
				{Key: "expiresAt", Value: now.Add(time.Hour)},
				{Key: "createdByIp", Value: "1.1.1.1"},
			},
		}},
		{Key: "oneTimeTokens", Value: bson.A{
			bson.D{
				{Key: "id", Value: "o1"},
				{Key: "purpose", Value: "password_reset"},
				{Key: "tokenHash", Value: "oh"},
				{Key: "createdAt", Value: now},
				{Key: "expiresAt", Value: now.Add(time.Hour)},
			},
		}},
		{Key: "version", Value: version},
	}
}

func TestMongoRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mt.Run("find by id decodes embedded tokens", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, accountBSON("a1", 5, now)))

		got, err := repo.FindByID(context.Background(), "a1")
		require.NoError(mt, err)
		assert.Equal(mt, "a1@example.com", got.Email)
		assert.Equal(mt, models.StatusVerified, got.Status)
		assert.Equal(mt, int64(5), got.Version)
		require.Len(mt, got.RefreshTokens, 2)
		assert.Equal(mt, "r2", got.RefreshTokens[0].ReplacedByID)
		require.NotNil(mt, got.RefreshTokens[0].RevokedAt)
		assert.Nil(mt, got.RefreshTokens[1].RevokedAt)
		require.Len(mt, got.OneTimeTokens, 1)
		assert.Equal(mt, models.PurposePasswordReset, got.OneTimeTokens[0].Purpose)
		assert.Nil(mt, got.OneTimeTokens[0].ConsumedAt)
	})

	mt.Run("find by refresh token not found", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := repo.FindByRefreshToken(context.Background(), "missing")
		assert.ErrorIs(mt, err, common.ErrNotFound)
	})

	mt.Run("find by one-time token", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, accountBSON("a2", 1, now)))

		got, err := repo.FindByOneTimeToken(context.Background(), "oh", models.PurposePasswordReset)
		require.NoError(mt, err)
		assert.Equal(mt, "a2", got.ID)
	})

	mt.Run("create", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		a := &models.Account{ID: "a1", Email: "a@example.com", Role: models.RoleUser, Status: models.StatusUnverified, CreatedAt: now}
		require.NoError(mt, repo.Create(context.Background(), a))
		assert.Equal(mt, int64(1), a.Version)
	})

	mt.Run("create duplicate email", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		a := &models.Account{ID: "a1", Email: "a@example.com"}
		err := repo.Create(context.Background(), a)
		assert.ErrorIs(mt, err, common.ErrAlreadyExists)
		assert.Equal(mt, int64(0), a.Version)
	})

	mt.Run("save bumps version", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		a := &models.Account{ID: "a1", Email: "a@example.com", Version: 3}
		require.NoError(mt, repo.Save(context.Background(), a))
		assert.Equal(mt, int64(4), a.Version)
	})

	mt.Run("save stale version conflicts", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		a := &models.Account{ID: "a1", Email: "a@example.com", Version: 3}
		err := repo.Save(context.Background(), a)
		assert.ErrorIs(mt, err, common.ErrConflict)
		assert.Equal(mt, int64(3), a.Version)
	})

	mt.Run("list", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: "a1"}, {Key: "email", Value: "a@x"}, {Key: "role", Value: "Admin"}, {Key: "version", Value: int64(1)}},
			bson.D{{Key: "_id", Value: "a2"}, {Key: "email", Value: "b@x"}, {Key: "role", Value: "User"}, {Key: "version", Value: int64(1)}},
		))

		list, err := repo.List(context.Background())
		require.NoError(mt, err)
		require.Len(mt, list, 2)
		assert.Equal(mt, models.RoleAdmin, list[0].Role)
		assert.Empty(mt, list[1].RefreshTokens)
	})

	mt.Run("count", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "n", Value: int32(7)}}))

		n, err := repo.Count(context.Background())
		require.NoError(mt, err)
		assert.Equal(mt, int64(7), n)
	})

	mt.Run("ensure indexes", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		require.NoError(mt, repo.EnsureIndexes(context.Background()))
	})
}

func TestDocumentRoundTripKeepsTokenState(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	revoked := now.Add(time.Minute)

	a := &models.Account{
		ID:     "a1",
		Email:  "a@example.com",
		Role:   models.RoleAdmin,
		Status: models.StatusVerified,
		RefreshTokens: []*models.RefreshToken{
			{ID: "r1", TokenHash: "h1", CreatedAt: now, ExpiresAt: now.Add(time.Hour), RevokedAt: &revoked, RevokedReason: "reuse detected", ReplacedByID: "r2"},
		},
		OneTimeTokens: []*models.OneTimeToken{
			{ID: "o1", Purpose: models.PurposeVerification, TokenHash: "oh", CreatedAt: now, ExpiresAt: now.Add(time.Hour), ConsumedAt: &revoked},
		},
		Version: 2,
	}

	doc := toDocument(a)
	got := doc.toModel()

	assert.Equal(t, a.RefreshTokens, got.RefreshTokens)
	assert.Equal(t, a.OneTimeTokens, got.OneTimeTokens)
	assert.Equal(t, a.Role, got.Role)
	assert.Equal(t, a.Version, got.Version)
}

var _ Repository = (*MongoRepository)(nil)

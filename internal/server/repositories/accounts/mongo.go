package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCollection is the collection accounts are stored in.
const MongoCollection = "accounts"

type refreshTokenDocument struct {
	ID            string     `bson:"id"`
	TokenHash     string     `bson:"tokenHash"`
	CreatedAt     time.Time  `bson:"createdAt"`
	ExpiresAt     time.Time  `bson:"expiresAt"`
	CreatedByIP   string     `bson:"createdByIp"`
	RevokedAt     *time.Time `bson:"revokedAt,omitempty"`
	RevokedByIP   string     `bson:"revokedByIp,omitempty"`
	RevokedReason string     `bson:"revokedReason,omitempty"`
	ReplacedByID  string     `bson:"replacedById,omitempty"`
}

type oneTimeTokenDocument struct {
	ID         string     `bson:"id"`
	Purpose    string     `bson:"purpose"`
	TokenHash  string     `bson:"tokenHash"`
	CreatedAt  time.Time  `bson:"createdAt"`
	ExpiresAt  time.Time  `bson:"expiresAt"`
	ConsumedAt *time.Time `bson:"consumedAt,omitempty"`
}

// accountDocument is one account with its tokens embedded.
type accountDocument struct {
	ID              string                 `bson:"_id"`
	Email           string                 `bson:"email"`
	PasswordHash    string                 `bson:"passwordHash"`
	Role            string                 `bson:"role"`
	Status          string                 `bson:"status"`
	VerifiedAt      *time.Time             `bson:"verifiedAt,omitempty"`
	PasswordResetAt *time.Time             `bson:"passwordResetAt,omitempty"`
	CreatedAt       time.Time              `bson:"createdAt"`
	UpdatedAt       time.Time              `bson:"updatedAt"`
	RefreshTokens   []refreshTokenDocument `bson:"refreshTokens"`
	OneTimeTokens   []oneTimeTokenDocument `bson:"oneTimeTokens"`
	Version         int64                  `bson:"version"`
}

func toDocument(a *models.Account) accountDocument {
	d := accountDocument{
		ID:              a.ID,
		Email:           a.Email,
		PasswordHash:    a.PasswordHash,
		Role:            string(a.Role),
		Status:          string(a.Status),
		VerifiedAt:      utc(a.VerifiedAt),
		PasswordResetAt: utc(a.PasswordResetAt),
		CreatedAt:       a.CreatedAt.UTC(),
		UpdatedAt:       a.UpdatedAt.UTC(),
		RefreshTokens:   make([]refreshTokenDocument, 0, len(a.RefreshTokens)),
		OneTimeTokens:   make([]oneTimeTokenDocument, 0, len(a.OneTimeTokens)),
		Version:         a.Version,
	}
	for _, t := range a.RefreshTokens {
		d.RefreshTokens = append(d.RefreshTokens, refreshTokenDocument{
			ID:            t.ID,
			TokenHash:     t.TokenHash,
			CreatedAt:     t.CreatedAt.UTC(),
			ExpiresAt:     t.ExpiresAt.UTC(),
			CreatedByIP:   t.CreatedByIP,
			RevokedAt:     utc(t.RevokedAt),
			RevokedByIP:   t.RevokedByIP,
			RevokedReason: t.RevokedReason,
			ReplacedByID:  t.ReplacedByID,
		})
	}
	for _, t := range a.OneTimeTokens {
		d.OneTimeTokens = append(d.OneTimeTokens, oneTimeTokenDocument{
			ID:         t.ID,
			Purpose:    string(t.Purpose),
			TokenHash:  t.TokenHash,
			CreatedAt:  t.CreatedAt.UTC(),
			ExpiresAt:  t.ExpiresAt.UTC(),
			ConsumedAt: utc(t.ConsumedAt),
		})
	}
	return d
}

func (d *accountDocument) toModel() *models.Account {
	a := &models.Account{
		ID:              d.ID,
		Email:           d.Email,
		PasswordHash:    d.PasswordHash,
		Role:            models.Role(d.Role),
		Status:          models.Status(d.Status),
		VerifiedAt:      d.VerifiedAt,
		PasswordResetAt: d.PasswordResetAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		Version:         d.Version,
	}
	for _, t := range d.RefreshTokens {
		a.RefreshTokens = append(a.RefreshTokens, &models.RefreshToken{
			ID:            t.ID,
			TokenHash:     t.TokenHash,
			CreatedAt:     t.CreatedAt,
			ExpiresAt:     t.ExpiresAt,
			CreatedByIP:   t.CreatedByIP,
			RevokedAt:     t.RevokedAt,
			RevokedByIP:   t.RevokedByIP,
			RevokedReason: t.RevokedReason,
			ReplacedByID:  t.ReplacedByID,
		})
	}
	for _, t := range d.OneTimeTokens {
		a.OneTimeTokens = append(a.OneTimeTokens, &models.OneTimeToken{
			ID:         t.ID,
			Purpose:    models.Purpose(t.Purpose),
			TokenHash:  t.TokenHash,
			CreatedAt:  t.CreatedAt,
			ExpiresAt:  t.ExpiresAt,
			ConsumedAt: t.ConsumedAt,
		})
	}
	return a
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// MongoRepository keeps one document per account. Save is a ReplaceOne
// filtered on both _id and version.
type MongoRepository struct {
	coll *mongo.Collection
}

func NewMongoRepository(coll *mongo.Collection) *MongoRepository {
	return &MongoRepository{coll: coll}
}

// EnsureIndexes creates the unique e-mail index and the token lookup indexes.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("email_unique")},
		{Keys: bson.D{{Key: "refreshTokens.tokenHash", Value: 1}}, Options: options.Index().SetName("refresh_token_hash")},
		{Keys: bson.D{{Key: "oneTimeTokens.tokenHash", Value: 1}, {Key: "oneTimeTokens.purpose", Value: 1}}, Options: options.Index().SetName("one_time_token_hash")},
	})
	if err != nil {
		return fmt.Errorf("mongo error: %w", err)
	}
	return nil
}

func (r *MongoRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (r *MongoRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.findOne(ctx, bson.D{{Key: "email", Value: email}})
}

func (r *MongoRepository) FindByRefreshToken(ctx context.Context, tokenHash string) (*models.Account, error) {
	return r.findOne(ctx, bson.D{{Key: "refreshTokens.tokenHash", Value: tokenHash}})
}

func (r *MongoRepository) FindByOneTimeToken(ctx context.Context, tokenHash string, purpose models.Purpose) (*models.Account, error) {
	return r.findOne(ctx, bson.D{{Key: "oneTimeTokens", Value: bson.D{{Key: "$elemMatch", Value: bson.D{
		{Key: "tokenHash", Value: tokenHash},
		{Key: "purpose", Value: string(purpose)},
	}}}}})
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.D) (*models.Account, error) {
	var doc accountDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("mongo error: %w", err)
	}
	return doc.toModel(), nil
}

func (r *MongoRepository) Create(ctx context.Context, account *models.Account) error {
	doc := toDocument(account)
	doc.Version = 1

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("mongo error: %w", err)
	}

	account.Version = 1
	return nil
}

func (r *MongoRepository) Save(ctx context.Context, account *models.Account) error {
	doc := toDocument(account)
	doc.Version = account.Version + 1

	filter := bson.D{{Key: "_id", Value: account.ID}, {Key: "version", Value: account.Version}}
	res, err := r.coll.ReplaceOne(ctx, filter, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("mongo error: %w", err)
	}
	if res.MatchedCount == 0 {
		return common.ErrConflict
	}

	account.Version = doc.Version
	return nil
}

func (r *MongoRepository) List(ctx context.Context) ([]*models.Account, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.D{{Key: "refreshTokens", Value: 0}, {Key: "oneTimeTokens", Value: 0}})

	cur, err := r.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo error: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.Account
	for cur.Next(ctx) {
		var doc accountDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo error: %w", err)
		}
		out = append(out, doc.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo error: %w", err)
	}
	return out, nil
}

func (r *MongoRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("mongo error: %w", err)
	}
	return n, nil
}

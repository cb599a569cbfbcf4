package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

const pendingCollection = "pending_verifications"

// pendingDoc is keyed by email, so the collection holds at most one record
// per address.
type pendingDoc struct {
	Email        string    `bson:"_id"`
	OTP          string    `bson:"otp"`
	Purpose      string    `bson:"purpose"`
	Role         string    `bson:"role"`
	ExpiresAt    time.Time `bson:"expires_at"`
	CreatedAt    time.Time `bson:"created_at"`
	Name         string    `bson:"name,omitempty"`
	EmployeeID   string    `bson:"employee_id,omitempty"`
	PasswordHash string    `bson:"password_hash,omitempty"`
	Attempts     int       `bson:"attempts"`
	Verified     bool      `bson:"verified"`
}

type PendingStore struct {
	coll *mongo.Collection
}

func NewPendingStore(db *mongo.Database) *PendingStore {
	return &PendingStore{coll: db.Collection(pendingCollection)}
}

func (s *PendingStore) Replace(ctx context.Context, p domain.PendingVerification) error {
	if p.Email == "" {
		return domain.ErrMissingField("email")
	}
	doc := pendingDoc{
		Email:        p.Email,
		OTP:          p.OTP,
		Purpose:      string(p.Purpose),
		Role:         string(p.Role),
		ExpiresAt:    p.ExpiresAt.UTC(),
		CreatedAt:    p.CreatedAt.UTC(),
		Name:         p.Name,
		EmployeeID:   p.EmployeeID,
		PasswordHash: p.PasswordHash,
		Verified:     p.Verified,
	}
	_, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: p.Email}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return domain.ErrDBUnavailable(err)
	}
	return nil
}

func (s *PendingStore) Find(ctx context.Context, email, otp string) (domain.PendingVerification, error) {
	var doc pendingDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: email}, {Key: "otp", Value: otp}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.PendingVerification{}, domain.ErrPendingNotFound()
		}
		return domain.PendingVerification{}, domain.ErrDBUnavailable(err)
	}
	return domain.PendingVerification{
		Email:        doc.Email,
		OTP:          doc.OTP,
		Purpose:      domain.Purpose(doc.Purpose),
		Role:         domain.Role(doc.Role),
		ExpiresAt:    doc.ExpiresAt,
		CreatedAt:    doc.CreatedAt,
		Name:         doc.Name,
		EmployeeID:   doc.EmployeeID,
		PasswordHash: doc.PasswordHash,
		Attempts:     doc.Attempts,
		Verified:     doc.Verified,
	}, nil
}

// RecordMiss increments in place; Replace writes a whole document, so a
// reissued code starts back at zero.
func (s *PendingStore) RecordMiss(ctx context.Context, email string) (int, error) {
	var doc struct {
		Attempts int `bson:"attempts"`
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.D{{Key: "attempts", Value: 1}})
	err := s.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: email}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "attempts", Value: 1}}}},
		opts,
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, domain.ErrPendingNotFound()
		}
		return 0, domain.ErrDBUnavailable(err)
	}
	return doc.Attempts, nil
}

func (s *PendingStore) Delete(ctx context.Context, email, otp string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: email}, {Key: "otp", Value: otp}}); err != nil {
		return domain.ErrDBUnavailable(err)
	}
	return nil
}

func (s *PendingStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lt", Value: now.UTC()}}}})
	if err != nil {
		return 0, domain.ErrDBUnavailable(err)
	}
	return int(res.DeletedCount), nil
}

func (s *PendingStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetName("expires_at"),
	})
	if err != nil {
		return domain.ErrDBUnavailable(err)
	}
	return nil
}

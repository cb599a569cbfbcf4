package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

type accountDoc struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	Name         string    `bson:"name"`
	EmployeeID   string    `bson:"employee_id,omitempty"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d accountDoc) toDomain(role domain.Role) domain.Account {
	return domain.Account{
		ID:           d.ID,
		Role:         role,
		Email:        d.Email,
		Name:         d.Name,
		EmployeeID:   d.EmployeeID,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// AccountRepo maps each role to the collection its policy names.
type AccountRepo struct {
	colls map[domain.Role]*mongo.Collection
	now   func() time.Time
}

func NewAccountRepo(db *mongo.Database, policies domain.Policies) *AccountRepo {
	colls := make(map[domain.Role]*mongo.Collection, len(policies))
	for role, p := range policies {
		colls[role] = db.Collection(p.Collection)
	}
	return &AccountRepo{colls: colls, now: time.Now}
}

func (r *AccountRepo) coll(role domain.Role) (*mongo.Collection, error) {
	c, ok := r.colls[role]
	if !ok {
		return nil, domain.ErrInvalidRole(string(role))
	}
	return c, nil
}

func (r *AccountRepo) findOne(ctx context.Context, role domain.Role, filter bson.D) (domain.Account, error) {
	c, err := r.coll(role)
	if err != nil {
		return domain.Account{}, err
	}
	var doc accountDoc
	if err := c.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Account{}, domain.ErrAccountNotFound()
		}
		return domain.Account{}, domain.ErrDBUnavailable(err)
	}
	return doc.toDomain(role), nil
}

func (r *AccountRepo) GetByEmail(ctx context.Context, role domain.Role, email string) (domain.Account, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return domain.Account{}, domain.ErrMissingField("email")
	}
	return r.findOne(ctx, role, bson.D{{Key: "email", Value: email}})
}

func (r *AccountRepo) GetByID(ctx context.Context, role domain.Role, id string) (domain.Account, error) {
	if id == "" {
		return domain.Account{}, domain.ErrMissingField("id")
	}
	return r.findOne(ctx, role, bson.D{{Key: "_id", Value: id}})
}

func (r *AccountRepo) GetByEmployeeID(ctx context.Context, employeeID string) (domain.Account, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return domain.Account{}, domain.ErrMissingField("employee_id")
	}
	return r.findOne(ctx, domain.RoleEmployee, bson.D{{Key: "employee_id", Value: employeeID}})
}

func (r *AccountRepo) Create(ctx context.Context, a domain.Account) (domain.Account, error) {
	c, err := r.coll(a.Role)
	if err != nil {
		return domain.Account{}, err
	}
	a.Email = domain.NormalizeEmail(a.Email)
	if a.ID == "" {
		return domain.Account{}, domain.ErrMissingField("id")
	}
	if a.Email == "" {
		return domain.Account{}, domain.ErrMissingField("email")
	}
	if a.Role != domain.RoleEmployee {
		a.EmployeeID = ""
	}
	now := r.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	doc := accountDoc{
		ID:           a.ID,
		Email:        a.Email,
		Name:         a.Name,
		EmployeeID:   a.EmployeeID,
		PasswordHash: a.PasswordHash,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
	if _, err := c.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			field := "email"
			if strings.Contains(err.Error(), "employee_id") {
				field = "employee_id"
			}
			return domain.Account{}, domain.ErrAccountAlreadyExists(field)
		}
		return domain.Account{}, domain.ErrDBUnavailable(err)
	}
	return a, nil
}

func (r *AccountRepo) UpdatePasswordHash(ctx context.Context, role domain.Role, accountID string, newHash string) error {
	c, err := r.coll(role)
	if err != nil {
		return err
	}
	if accountID == "" {
		return domain.ErrMissingField("account_id")
	}
	res, err := c.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: accountID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "password_hash", Value: newHash},
			{Key: "updated_at", Value: r.now().UTC()},
		}}},
	)
	if err != nil {
		return domain.ErrDBUnavailable(err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrAccountNotFound()
	}
	return nil
}

// EnsureIndexes creates the uniqueness guarantees Create relies on.
func (r *AccountRepo) EnsureIndexes(ctx context.Context) error {
	for role, c := range r.colls {
		models := []mongo.IndexModel{
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("email_unique")},
		}
		if role == domain.RoleEmployee {
			models = append(models, mongo.IndexModel{
				Keys: bson.D{{Key: "employee_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("employee_id_unique").
					SetPartialFilterExpression(bson.D{{Key: "employee_id", Value: bson.D{{Key: "$exists", Value: true}}}}),
			})
		}
		if _, err := c.Indexes().CreateMany(ctx, models); err != nil {
			return domain.ErrDBUnavailable(err)
		}
	}
	return nil
}

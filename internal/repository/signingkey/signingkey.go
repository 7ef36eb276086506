package signingkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sealed_chat/internal/cryptographic/signature"
	"sealed_chat/internal/model"
	"sealed_chat/internal/utils/log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var ErrDuplicate = errors.New("signing key already exists")

type (
	Store interface {
		GetByName(ctx context.Context, name string) (*model.SigningKey, error)
		Create(ctx context.Context, key *model.SigningKey) error
	}

	SigningKeyRepo struct {
		collection *mongo.Collection
	}
)

func NewSigningKeyRepo(db *mongo.Database) *SigningKeyRepo {
	return &SigningKeyRepo{
		collection: db.Collection("signing_keys"),
	}
}

func (r *SigningKeyRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *SigningKeyRepo) GetByName(ctx context.Context, name string) (*model.SigningKey, error) {
	var key model.SigningKey
	err := r.collection.FindOne(ctx, bson.M{"name": name}).Decode(&key)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *SigningKeyRepo) Create(ctx context.Context, key *model.SigningKey) error {
	_, err := r.collection.InsertOne(ctx, key)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

// LoadOrCreate returns the signer stored under name, generating and storing
// one with algorithm if none exists. When two instances race, the stored key
// wins. An existing key is kept even if algorithm differs.
func LoadOrCreate(ctx context.Context, store Store, name, algorithm string) (signature.Signer, error) {
	existing, err := store.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load signing key %q: %w", name, err)
	}
	if existing != nil {
		return fromModel(existing, algorithm)
	}

	signer, err := signature.NewSigner(algorithm)
	if err != nil {
		return nil, err
	}
	pemBytes, err := signer.MarshalPrivateKeyPEM()
	if err != nil {
		return nil, err
	}

	err = store.Create(ctx, &model.SigningKey{
		Name:          name,
		Algorithm:     signer.Algorithm(),
		PrivateKeyPEM: pemBytes,
		CreatedAt:     time.Now().UTC(),
	})
	if errors.Is(err, ErrDuplicate) {
		existing, err = store.GetByName(ctx, name)
		if err != nil || existing == nil {
			return nil, fmt.Errorf("reload signing key %q: %v", name, err)
		}
		return fromModel(existing, algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("store signing key %q: %w", name, err)
	}

	log.Info("generated certificate signing key", zap.String("name", name), zap.String("algorithm", signer.Algorithm()))
	return signer, nil
}

func fromModel(key *model.SigningKey, wanted string) (signature.Signer, error) {
	signer, err := signature.ParsePrivateKeyPEM(key.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse signing key %q: %w", key.Name, err)
	}
	if signer.Algorithm() != wanted {
		log.Warn("stored signing key algorithm differs from configuration",
			zap.String("name", key.Name),
			zap.String("stored", signer.Algorithm()),
			zap.String("configured", wanted))
	}
	return signer, nil
}

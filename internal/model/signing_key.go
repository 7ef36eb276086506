package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	// SigningKey is the persisted certificate authority key, PKCS#8 PEM.
	SigningKey struct {
		ID            primitive.ObjectID `bson:"_id,omitempty"`
		Name          string             `bson:"name"`
		Algorithm     string             `bson:"algorithm"`
		PrivateKeyPEM []byte             `bson:"private_key_pem"`
		CreatedAt     time.Time          `bson:"created_at"`
	}
)

package signingkey

import (
	"context"
	"errors"
	"testing"

	"sealed_chat/internal/cryptographic/signature"
	"sealed_chat/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetByName(ctx context.Context, name string) (*model.SigningKey, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SigningKey), args.Error(1)
}

func (m *MockStore) Create(ctx context.Context, key *model.SigningKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func TestLoadOrCreate_Generates(t *testing.T) {
	store := new(MockStore)
	store.On("GetByName", mock.Anything, "ca").Return(nil, nil).Once()

	var saved *model.SigningKey
	store.On("Create", mock.Anything, mock.AnythingOfType("*model.SigningKey")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*model.SigningKey) }).
		Return(nil).Once()

	signer, err := LoadOrCreate(context.Background(), store, "ca", signature.AlgorithmEd25519)
	require.NoError(t, err)
	assert.Equal(t, signature.AlgorithmEd25519, signer.Algorithm())

	require.NotNil(t, saved)
	assert.Equal(t, "ca", saved.Name)
	reloaded, err := signature.ParsePrivateKeyPEM(saved.PrivateKeyPEM)
	require.NoError(t, err)
	assert.Equal(t, signer.Public(), reloaded.Public())
	store.AssertExpectations(t)
}

func TestLoadOrCreate_LoadsExisting(t *testing.T) {
	existing, err := signature.NewEd25519Signer()
	require.NoError(t, err)
	pemBytes, err := existing.MarshalPrivateKeyPEM()
	require.NoError(t, err)

	store := new(MockStore)
	store.On("GetByName", mock.Anything, "ca").
		Return(&model.SigningKey{Name: "ca", Algorithm: signature.AlgorithmEd25519, PrivateKeyPEM: pemBytes}, nil).Once()

	// configured algorithm differs, the stored key still wins
	signer, err := LoadOrCreate(context.Background(), store, "ca", signature.AlgorithmRSA2048)
	require.NoError(t, err)
	assert.Equal(t, existing.Public(), signer.Public())
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestLoadOrCreate_LosesRace(t *testing.T) {
	winner, err := signature.NewEd25519Signer()
	require.NoError(t, err)
	pemBytes, err := winner.MarshalPrivateKeyPEM()
	require.NoError(t, err)

	store := new(MockStore)
	store.On("GetByName", mock.Anything, "ca").Return(nil, nil).Once()
	store.On("Create", mock.Anything, mock.Anything).Return(ErrDuplicate).Once()
	store.On("GetByName", mock.Anything, "ca").
		Return(&model.SigningKey{Name: "ca", PrivateKeyPEM: pemBytes}, nil).Once()

	signer, err := LoadOrCreate(context.Background(), store, "ca", signature.AlgorithmEd25519)
	require.NoError(t, err)
	assert.Equal(t, winner.Public(), signer.Public())
	store.AssertExpectations(t)
}

func TestLoadOrCreate_Errors(t *testing.T) {
	store := new(MockStore)
	store.On("GetByName", mock.Anything, "ca").Return(nil, errors.New("mongo down")).Once()
	_, err := LoadOrCreate(context.Background(), store, "ca", signature.AlgorithmEd25519)
	assert.Error(t, err)

	store = new(MockStore)
	store.On("GetByName", mock.Anything, "ca").
		Return(&model.SigningKey{Name: "ca", PrivateKeyPEM: []byte("not pem")}, nil).Once()
	_, err = LoadOrCreate(context.Background(), store, "ca", signature.AlgorithmEd25519)
	assert.Error(t, err)
}

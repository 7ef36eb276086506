package server

import (
	"fmt"
	"net/http"

	"sealed_chat/internal/cryptographic/dh"
	"sealed_chat/internal/model"
	"sealed_chat/internal/utils/log"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func sharedKeysOf(user *model.User) (*model.SharedKey, error) {
	ikPub, err := dh.PublicKey(user.IKPriv)
	if err != nil {
		return nil, err
	}
	spkPub, err := dh.PublicKey(user.SPKPriv)
	if err != nil {
		return nil, err
	}
	return &model.SharedKey{
		Name:   user.Name,
		IKPub:  ikPub,
		SPKPub: spkPub,
	}, nil
}

func (s *HttpServer) GetSharedKeysOfUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		name := mux.Vars(r)["name"]
		log.Debug("GetSharedKeysOfUser", zap.String("name", name))

		user, err := s.userRepo.GetByName(ctx, name)
		if err != nil {
			log.Error("Get shared keys failed", zap.Error(err))
			http.Error(w, "Get shared keys failed", http.StatusInternalServerError)
			return
		}
		if user == nil {
			log.Info("Get shared keys failed", zap.Error(fmt.Errorf("user %q not found", name)))
			http.Error(w, "user does not exist", http.StatusNotFound)
			return
		}

		sharedKeys, err := sharedKeysOf(user)
		if err != nil {
			log.Error("Get shared keys failed", zap.Error(err))
			http.Error(w, "Get shared keys failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, sharedKeys)
	}
}

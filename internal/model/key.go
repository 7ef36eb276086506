package model

type (
	// SharedKey is the public half of a user's key material as served by
	// the directory endpoint.
	SharedKey struct {
		Name   string `json:"name"`
		IKPub  []byte `json:"ik_pub"`
		SPKPub []byte `json:"spk_pub"`
	}
)

package model

type (
	// X3DHHandshake travels with PreKey session messages until the
	// responder has answered once.
	X3DHHandshake struct {
		IKPub []byte
		EKPub []byte
	}

	SenderKeyBundle struct {
		IKPrivA []byte
		EKPrivA []byte

		IKPubB  []byte
		SPKPubB []byte
		OTKPubB []byte
	}

	ReceiverKeyBundle struct {
		IKPubA []byte
		EKPubA []byte

		IKPrivB  []byte
		SPKPrivB []byte
		OTKPrivB []byte
	}
)

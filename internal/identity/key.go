// Package identity derives the refit identity key of a fitting request.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fitsa/fitsa/internal/model"
)

const version = "fitsa-identity/v1"

// Compute returns the identity key for a person image, its ordered garment
// stages and the joint mode label. Every image is digested on its own and the
// digests are combined with their role labels, so moving an image to another
// slot yields a different key.
func Compute(person []byte, stages []model.Stage, mode string) model.IdentityKey {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n", version)
	fmt.Fprintf(h, "person:%s\n", digest(person))
	for i, s := range stages {
		fmt.Fprintf(h, "garment:%d:%s:%s\n", i, s.Category, digest(s.Garment))
	}
	fmt.Fprintf(h, "mode:%s\n", mode)
	return model.IdentityKey(hex.EncodeToString(h.Sum(nil)))
}

// ForRequest computes the key of req using its joint category as the mode.
func ForRequest(req *model.FittingRequest) model.IdentityKey {
	return Compute(req.Person, req.Stages, model.JointCategory(req.Stages))
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

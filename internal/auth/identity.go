package auth

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Identity is the authenticated caller, passed explicitly into every service
// call that acts on someone's behalf. Services never read auth state from
// anywhere else; who is acting is always visible in the call signature.
type Identity struct {
	UserID  primitive.ObjectID
	IsAdmin bool
}

// IdentityFromClaims builds an Identity from validated JWT claims.
func IdentityFromClaims(claims *Claims) (Identity, error) {
	userID, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID, IsAdmin: claims.IsAdmin}, nil
}

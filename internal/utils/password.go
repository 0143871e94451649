package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword derives a bcrypt hash of the plain password.  Costs
// below the bcrypt minimum are raised to the library default.
func HashPassword(plain string, cost int) (string, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword reports whether the plain password matches the stored
// bcrypt hash.  Malformed hashes simply fail the comparison.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

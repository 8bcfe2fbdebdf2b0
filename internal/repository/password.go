package repository

import (
	"crypto/sha1" // #nosec G505 - only used to verify legacy {SHA} htpasswd entries
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const shaPrefix = "{SHA}"

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

func hashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// checkPassword compares password with a bcrypt or legacy {SHA} hash.
func checkPassword(hash, password string) bool {
	switch {
	case strings.HasPrefix(hash, shaPrefix):
		sum := sha1.Sum([]byte(password)) // #nosec G401
		want := base64.StdEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(hash[len(shaPrefix):]), []byte(want)) == 1
	case strings.HasPrefix(hash, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	default:
		return false
	}
}

// burnCompare spends roughly the same effort as a real comparison so a
// missing user cannot be told apart by timing.
func burnCompare(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("registry-auth-dummy"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

/*
Package randx generates the identifiers used on the wire.

Message identifiers are produced by the sending client and act as the de-duplication key;
user identifiers are produced by the relay at join time.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// UserIDPrefix prefixes every relay-assigned user id.
	UserIDPrefix = "u_"
)

// MessageID generates a standard UUID v4 string used as a message de-duplication key.
func MessageID() string {
	return uuid.New().String()
}

// LocalID generates a UUID v4 string identifying a message entry inside one client.
func LocalID() string {
	return uuid.New().String()
}

// UserID generates a relay-assigned user identifier.
func UserID() string {
	return UserIDPrefix + uuid.New().String()
}

// IsValidMessageID reports whether id parses as a UUID.
func IsValidMessageID(id string) bool {
	return uuid.Validate(id) == nil
}

// Nickname generates a random display name with a "User_" prefix and 6 random Base62 characters.
func Nickname() (string, error) {
	const nicknameRandomLength = 6
	result := make([]byte, nicknameRandomLength)

	for i := range nicknameRandomLength {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for nickname: %v", err)
		}
		result[i] = Base62Chars[num.Int64()]
	}

	return "User_" + string(result), nil
}

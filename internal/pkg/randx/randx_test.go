package randx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageID(t *testing.T) {
	a, b := MessageID(), MessageID()

	assert.NotEqual(t, a, b)
	assert.True(t, IsValidMessageID(a))
	assert.False(t, IsValidMessageID("m1"))
}

func TestUserID(t *testing.T) {
	id := UserID()
	assert.True(t, strings.HasPrefix(id, UserIDPrefix))
	assert.NotEqual(t, id, UserID())
}

func TestNickname(t *testing.T) {
	name, err := Nickname()
	require.NoError(t, err)

	suffix, ok := strings.CutPrefix(name, "User_")
	require.True(t, ok, name)
	assert.Len(t, suffix, 6)
	for _, c := range suffix {
		assert.Contains(t, Base62Chars, string(c))
	}
}

package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("MySecurePassword123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=1,p=4$"), hash)

	again, err := HashPassword("MySecurePassword123")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "salts differ")
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("MySecurePassword123")
	require.NoError(t, err)

	tests := []struct {
		name     string
		password string
		hash     string
		want     bool
		wantErr  bool
	}{
		{"correct password", "MySecurePassword123", hash, true, false},
		{"wrong password", "WrongPassword456", hash, false, false},
		{"invalid format", "MySecurePassword123", "invalid", false, true},
		{"wrong algorithm", "MySecurePassword123", "$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA", false, true},
		{"wrong version", "MySecurePassword123", "$argon2id$v=16$m=65536,t=1,p=4$c2FsdA$aGFzaA", false, true},
		{"bad parameters", "MySecurePassword123", "$argon2id$v=19$m=x$c2FsdA$aGFzaA", false, true},
		{"bad salt", "MySecurePassword123", "$argon2id$v=19$m=65536,t=1,p=4$!!!$aGFzaA", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VerifyPassword(tt.password, tt.hash)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidHash)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredentials(t *testing.T) {
	assert.False(t, Credentials{}.Enabled())

	hash, err := HashPassword("secret")
	require.NoError(t, err)
	c := Credentials{Username: "admin", PasswordHash: hash}
	require.True(t, c.Enabled())

	assert.True(t, c.Check("admin", "secret"))
	assert.False(t, c.Check("admin", "nope"))
	assert.False(t, c.Check("root", "secret"))
	assert.False(t, Credentials{Username: "admin", PasswordHash: "garbage"}.Check("admin", "secret"))
}

func TestCheckHashesForUnknownUser(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)
	c := Credentials{Username: "admin", PasswordHash: hash}

	calls := 0
	verifyPassword = func(password, encoded string) (bool, error) {
		calls++
		return VerifyPassword(password, encoded)
	}
	t.Cleanup(func() { verifyPassword = VerifyPassword })

	assert.False(t, c.Check("root", "secret"))
	assert.False(t, c.Check("", ""))
	assert.True(t, c.Check("admin", "secret"))
	assert.Equal(t, 3, calls, "every attempt runs the password hash")
}

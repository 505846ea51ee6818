package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip_Plaintext(t *testing.T) {
	c := NewCodec("")
	p := Payload{FirstName: "Ann", LastName: "Lee", StudentID: "1001", RoomID: "room-1"}

	encoded, err := c.Encode(p)
	require.NoError(t, err)

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestRoundTrip_Encrypted(t *testing.T) {
	cases := []Payload{
		{FirstName: "Ann", LastName: "Lee", StudentID: "1001"},
		{FirstName: "José", LastName: "García", StudentID: "2002", RoomID: "room-9"},
		{FirstName: "A", LastName: "B", StudentID: "0"},
	}
	c := NewCodec("school-secret")
	for _, p := range cases {
		t.Run(p.StudentID, func(t *testing.T) {
			encoded, err := c.Encode(p)
			require.NoError(t, err)

			decoded, err := c.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, p, decoded)
		})
	}
}

func TestEncode_RandomIV(t *testing.T) {
	c := NewCodec("school-secret")
	p := Payload{FirstName: "Ann", LastName: "Lee", StudentID: "1001"}

	a, err := c.Encode(p)
	require.NoError(t, err)
	b, err := c.Encode(p)
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "random IV must vary the ciphertext")

	da, err := c.Decode(a)
	require.NoError(t, err)
	db, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestDecode_WrongKey(t *testing.T) {
	p := Payload{FirstName: "Ann", LastName: "Lee", StudentID: "1001"}
	encoded, err := NewCodec("key-one").Encode(p)
	require.NoError(t, err)

	_, err = NewCodec("key-two").Decode(encoded)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecode_Malformed(t *testing.T) {
	c := NewCodec("school-secret")
	cases := map[string]string{
		"empty":          "",
		"too short":      "abcd",
		"bad hex iv":     strings.Repeat("zz", 16) + "aGVsbG8=",
		"bad base64":     strings.Repeat("ab", 16) + "%%%not-base64%%%",
		"unaligned body": strings.Repeat("ab", 16) + "aGVsbG8=",
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decode(payload)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestDecode_PlaintextGarbage(t *testing.T) {
	c := NewCodec("")
	_, err := c.Decode("this is not json")
	assert.ErrorIs(t, err, ErrDecode)

	_, err = c.Decode("{}")
	assert.ErrorIs(t, err, ErrDecode, "empty identity fields must not resolve")
}

func TestKeyDerivation_PadAndTruncate(t *testing.T) {
	// Short and overlong secrets both yield a working 32-byte key.
	for _, secret := range []string{"s", strings.Repeat("x", 48)} {
		c := NewCodec(secret)
		p := Payload{FirstName: "Ann", LastName: "Lee", StudentID: "1001"}
		encoded, err := c.Encode(p)
		require.NoError(t, err)
		decoded, err := c.Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, p, decoded)
	}
}

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrosevaa/sessiond/internal/model"
	"github.com/astrosevaa/sessiond/internal/util"
)

func TestEncode(t *testing.T) {
	fields, err := Encode(model.StateSnapshot{
		UserID:        "u1",
		Token:         "tok",
		Role:          model.RoleUser,
		FreeChatUsed:  true,
		Balance:       120.5,
		ActiveSession: &model.Session{ID: "s1", Type: model.SessionTypeChat},
	})
	require.NoError(t, err)

	assert.Equal(t, "tok", fields["token"])
	assert.Equal(t, "USER", fields["role"])
	assert.Equal(t, "true", fields["freeChatUsed"])
	assert.Equal(t, "120.5", fields["balance"])
	assert.JSONEq(t, `{"id":"s1","sessionType":"CHAT"}`, fields["activeSession"])
	assert.NotContains(t, fields, "otherParty")
	assert.NotContains(t, fields, "userId")

	for k := range fields {
		assert.Contains(t, Fields, k)
	}
}

func TestDecode(t *testing.T) {
	snap := Decode("u1", map[string]string{
		"token":         "tok",
		"role":          "ASTROLOGER",
		"freeChatUsed":  "true",
		"balance":       "99.25",
		"activeSession": `{"id":"s1","status":"ACTIVE"}`,
		"otherParty":    `{"id":"u2","name":"Ravi"}`,
	})

	assert.Equal(t, "u1", snap.UserID)
	assert.Equal(t, model.RoleAstrologer, snap.Role)
	assert.True(t, snap.FreeChatUsed)
	assert.Equal(t, 99.25, snap.Balance)
	require.NotNil(t, snap.ActiveSession)
	assert.Equal(t, model.SessionStatusActive, snap.ActiveSession.Status)
	assert.Equal(t, "Ravi", snap.OtherParty.Name)
}

func TestDecode_ToleratesGarbage(t *testing.T) {
	snap := Decode("u1", map[string]string{
		"freeChatUsed":  "maybe",
		"balance":       "lots",
		"activeSession": `{broken`,
	})

	assert.False(t, snap.FreeChatUsed)
	assert.Zero(t, snap.Balance)
	assert.Nil(t, snap.ActiveSession)
	assert.Nil(t, snap.OtherParty)
}

func TestRoundTripKeepsWhitelist(t *testing.T) {
	in := model.StateSnapshot{
		UserID:       "u1",
		Token:        "tok",
		Role:         model.RoleUser,
		Balance:      10,
		OtherParty:   &model.Participant{ID: "a1"},
		FreeChatUsed: false,
	}
	fields, err := Encode(in)
	require.NoError(t, err)

	assert.Equal(t, in, Decode("u1", fields))
}

func TestSealToken(t *testing.T) {
	sealer, err := util.NewSealer("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)

	t.Run("round trips through the hash fields", func(t *testing.T) {
		fields, err := Encode(model.StateSnapshot{UserID: "u1", Token: "tok", Role: model.RoleUser})
		require.NoError(t, err)

		require.NoError(t, SealToken(fields, sealer))
		assert.NotEqual(t, "tok", fields["token"])

		OpenToken("u1", fields, sealer)
		assert.Equal(t, "tok", Decode("u1", fields).Token)
	})

	t.Run("nil sealer leaves token", func(t *testing.T) {
		fields := map[string]string{"token": "tok"}
		require.NoError(t, SealToken(fields, nil))
		OpenToken("u1", fields, nil)
		assert.Equal(t, "tok", fields["token"])
	})

	t.Run("unreadable token is dropped", func(t *testing.T) {
		fields := map[string]string{"token": "not-sealed", "role": "USER"}
		OpenToken("u1", fields, sealer)

		snap := Decode("u1", fields)
		assert.Empty(t, snap.Token)
		assert.Equal(t, model.RoleUser, snap.Role)
	})
}

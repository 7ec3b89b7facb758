package session

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chen-zeong/dtv/internal/message"
)

func TestStaticCopiesTokens(t *testing.T) {
	st := &Static{Session: RoomSession{
		Platform: message.Douyu,
		Tokens:   map[string]string{"a": "1"},
	}}

	s, err := Bootstrap(context.Background(), st, "288016")
	require.NoError(t, err)
	assert.Equal(t, "288016", s.RoomID)
	assert.Equal(t, "1", s.Token("a"))

	s.SetToken("a", "2")
	assert.Equal(t, "1", st.Session.Tokens["a"])
}

type failing struct{ Static }

func (f *failing) HarvestCookies(context.Context, *RoomSession) error {
	return ErrRoomNotFound
}

func TestBootstrapWrapsErrors(t *testing.T) {
	_, err := Bootstrap(context.Background(), &failing{}, "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRoomNotFound))
	assert.Contains(t, err.Error(), "harvest cookies for room 1")
}

func TestTokenOnNilMap(t *testing.T) {
	var s RoomSession
	assert.Equal(t, "", s.Token("x"))
	s.SetToken("x", "y")
	assert.Equal(t, "y", s.Token("x"))
}

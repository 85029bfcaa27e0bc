package fritzbox

import (
	"errors"
	"testing"

	fmerrors "github.com/rcourtman/fritzmesh/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSIDValid(t *testing.T) {
	assert.False(t, InvalidSID.Valid())
	assert.False(t, SID("").Valid())
	assert.False(t, SID("123").Valid())
	assert.False(t, SID("0123456789abcdeg").Valid())
	assert.True(t, SID("0123456789abcdef").Valid())
	assert.True(t, SID("0123456789ABCDEF").Valid())
}

func TestParseSID(t *testing.T) {
	sid, err := ParseSID("  0123456789ABCDEF\n")
	require.NoError(t, err)
	assert.Equal(t, SID("0123456789abcdef"), sid)

	sid, err = ParseSID("0000000000000000")
	require.NoError(t, err)
	assert.Equal(t, InvalidSID, sid)
	assert.False(t, sid.Valid())

	sid, err = ParseSID("not-a-sid")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fmerrors.ErrProtocolViolation))
	assert.Equal(t, InvalidSID, sid)
}

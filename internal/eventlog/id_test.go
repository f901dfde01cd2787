package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    EntryID
		wantErr bool
	}{
		{in: "0-0", want: EntryID{}},
		{in: "1700000000000-0", want: EntryID{Ms: 1700000000000}},
		{in: "1700000000000-42", want: EntryID{Ms: 1700000000000, Seq: 42}},
		{in: "1700000000000", want: EntryID{Ms: 1700000000000}},
		{in: "", wantErr: true},
		{in: "abc-0", wantErr: true},
		{in: "5-xyz", wantErr: true},
		{in: "-5-0", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseID(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestIDStringRoundTrip(t *testing.T) {
	id := EntryID{Ms: 1700000000123, Seq: 7}
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestIDAfter(t *testing.T) {
	assert.True(t, EntryID{Ms: 2}.After(EntryID{Ms: 1, Seq: 99}))
	assert.True(t, EntryID{Ms: 1, Seq: 1}.After(EntryID{Ms: 1, Seq: 0}))
	assert.False(t, EntryID{Ms: 1, Seq: 0}.After(EntryID{Ms: 1, Seq: 0}))
	assert.False(t, ZeroID.After(ZeroID))
	assert.True(t, EntryID{Ms: 1}.After(ZeroID))
}

func TestNextAfter(t *testing.T) {
	base := time.UnixMilli(1700000000000)

	// Fresh millisecond resets the sequence.
	id := nextAfter(EntryID{Ms: 1699999999999, Seq: 5}, base)
	assert.Equal(t, EntryID{Ms: 1700000000000, Seq: 0}, id)

	// Same millisecond increments.
	id = nextAfter(EntryID{Ms: 1700000000000, Seq: 0}, base)
	assert.Equal(t, EntryID{Ms: 1700000000000, Seq: 1}, id)

	// Clock stepping backwards never regresses ids.
	id = nextAfter(EntryID{Ms: 1700000000000, Seq: 3}, base.Add(-time.Second))
	assert.Equal(t, EntryID{Ms: 1700000000000, Seq: 4}, id)
}

func TestIDJSONRoundTrip(t *testing.T) {
	id := EntryID{Ms: 1700000000123, Seq: 2}
	data, err := id.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1700000000123-2"`, string(data))

	var back EntryID
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, id, back)
}

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInbound(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{name: "valid text", raw: `{"type":"text","message":"hi"}`},
		{name: "valid stop_audio", raw: `{"type":"stop_audio"}`},
		{name: "valid start_audio", raw: `{"type":"start_audio","sampleRate":16000,"channels":1,"sampleWidth":2}`},
		{name: "invalid json", raw: `{not json`, wantErr: "invalid JSON"},
		{name: "not an object", raw: `[1,2,3]`, wantErr: "must be a JSON object"},
		{name: "missing type", raw: `{"message":"hi"}`, wantErr: "missing 'type'"},
		{name: "unknown type", raw: `{"type":"frobnicate"}`, wantErr: "unknown frame type"},
		{name: "missing field", raw: `{"type":"text"}`, wantErr: "missing required field"},
		{name: "wrong type", raw: `{"type":"text","message":42}`, wantErr: "must be string"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := ParseInbound([]byte(tc.raw))
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, frame.Type())
		})
	}
}

func TestValidateOutbound(t *testing.T) {
	require.NoError(t, ValidateOutbound(StatusFrame(StatusIdle)))
	require.NoError(t, ValidateOutbound(ErrorFrame(ErrorCodeTimeout, "took too long")))

	err := ValidateOutbound(Frame{"type": "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown outbound frame type")

	err = ValidateOutbound(Frame{"type": "error", "code": "X"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field")
}

func TestSerialize(t *testing.T) {
	raw, err := Serialize(ConnectedFrame("1.0"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connected","version":"1.0"}`, string(raw))

	_, err = Serialize(Frame{"type": "nope"})
	require.Error(t, err)
}

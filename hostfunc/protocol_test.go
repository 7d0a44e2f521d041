package hostfunc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		return args["msg"], nil
	}))
	require.NoError(t, r.Register("boom", func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("boom")
	}))

	tests := []struct {
		name    string
		payload string
		want    CallResponse
	}{
		{"success", `{"fn":"echo","args":{"msg":"hi"}}`, CallResponse{Data: "hi"}},
		{"function error", `{"fn":"boom"}`, CallResponse{Error: "boom"}},
		{"unknown function", `{"fn":"nope","args":{}}`, CallResponse{Error: "unknown function: nope"}},
		{"malformed", `{"fn":`, CallResponse{Error: "invalid call format"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got CallResponse
			require.NoError(t, json.Unmarshal(r.Dispatch(context.Background(), []byte(tt.payload)), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCallCrypto(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterCrypto(r))

	resp := r.Call(context.Background(), FuncBase58, map[string]any{"data": "abc"})
	assert.Empty(t, resp.Error)
	assert.Equal(t, "ZiCa", resp.Data)

	resp = r.Call(context.Background(), FuncSha256, nil)
	assert.Equal(t, "data required", resp.Error)
}

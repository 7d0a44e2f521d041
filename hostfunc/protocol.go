package hostfunc

import (
	"context"
	"encoding/json"
)

// CallRequest is a generic host function call encoded by contract code that
// cannot pass structured values directly (wasm linear memory).
type CallRequest struct {
	Fn   string         `json:"fn"`
	Args map[string]any `json:"args"`
}

// CallResponse carries either the function result or its error text.
type CallResponse struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Call invokes the named generic function.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) CallResponse {
	fn, ok := r.Get(name)
	if !ok {
		return CallResponse{Error: "unknown function: " + name}
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := fn(ctx, args)
	if err != nil {
		return CallResponse{Error: err.Error()}
	}
	return CallResponse{Data: result}
}

// Dispatch decodes a JSON CallRequest, runs it and returns the JSON encoded
// CallResponse.
func (r *Registry) Dispatch(ctx context.Context, payload []byte) []byte {
	var req CallRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return encodeResponse(CallResponse{Error: "invalid call format"})
	}
	return encodeResponse(r.Call(ctx, req.Fn, req.Args))
}

func encodeResponse(resp CallResponse) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(CallResponse{Error: "unencodable result"})
	}
	return data
}

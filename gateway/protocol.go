package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// JSON-RPC 2.0 错误码
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// rpcRequest 解析后的调用，id 原样回传
type rpcRequest struct {
	ID     json.RawMessage
	Method string
	Params gjson.Result
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError JSON-RPC 错误对象
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func invalidParams(format string, args ...any) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// rpcMethod 方法实现，返回 *RPCError 时使用其中的错误码
type rpcMethod func(ctx context.Context, params gjson.Result) (any, error)

var nullID = json.RawMessage("null")

// parseRPC 校验请求信封，失败时返回带错误码的 RPCError
func parseRPC(body []byte) (*rpcRequest, *RPCError) {
	if !gjson.ValidBytes(body) {
		return nil, &RPCError{Code: codeParseError, Message: "invalid json"}
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, &RPCError{Code: codeInvalidRequest, Message: "request must be an object"}
	}
	if v := doc.Get("jsonrpc"); v.String() != "2.0" {
		return nil, &RPCError{Code: codeInvalidRequest, Message: fmt.Sprintf("unsupported jsonrpc version %q", v.String())}
	}

	req := &rpcRequest{ID: nullID}
	if id := doc.Get("id"); id.Exists() {
		switch id.Type {
		case gjson.String, gjson.Number, gjson.Null:
			req.ID = json.RawMessage(id.Raw)
		default:
			return nil, &RPCError{Code: codeInvalidRequest, Message: "id must be a string or number"}
		}
	}

	method := doc.Get("method")
	if method.Type != gjson.String || strings.TrimSpace(method.Str) == "" {
		return req, &RPCError{Code: codeInvalidRequest, Message: "method is required"}
	}
	req.Method = method.Str

	req.Params = doc.Get("params")
	if req.Params.Exists() && !req.Params.IsObject() {
		return req, invalidParams("params must be an object")
	}
	return req, nil
}

// dispatch 调用方法并包装成响应
func dispatch(ctx context.Context, methods map[string]rpcMethod, req *rpcRequest) (*rpcResponse, error) {
	resp := &rpcResponse{JSONRPC: "2.0", ID: req.ID}
	fn, ok := methods[req.Method]
	if !ok || fn == nil {
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
		return resp, nil
	}
	result, err := fn(ctx, req.Params)
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: codeInternalError, Message: err.Error()}
		}
		resp.Error = rpcErr
		return resp, err
	}
	resp.Result = result
	return resp, nil
}

func errorResponse(id json.RawMessage, e *RPCError) *rpcResponse {
	if id == nil {
		id = nullID
	}
	return &rpcResponse{JSONRPC: "2.0", ID: id, Error: e}
}

// optionalString 可选的字符串参数，存在但不是非空字符串时报参数错误
func optionalString(params gjson.Result, key string) (string, error) {
	v := params.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return "", nil
	}
	if v.Type != gjson.String || strings.TrimSpace(v.Str) == "" {
		return "", invalidParams("%s must be a non-empty string", key)
	}
	return strings.TrimSpace(v.Str), nil
}

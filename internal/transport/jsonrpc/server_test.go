package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ServerSuite struct {
	suite.Suite
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) newServer(in string) (*Server, *bytes.Buffer) {
	var out bytes.Buffer
	srv := NewServerIO(Deps{Version: "test", Logger: zerolog.Nop()}, strings.NewReader(in), &out)
	return srv, &out
}

func (s *ServerSuite) decodeResponse(out *bytes.Buffer) Response {
	var resp Response
	require.NoError(s.T(), json.Unmarshal(out.Bytes(), &resp))
	return resp
}

func (s *ServerSuite) TestRun_Initialize() {
	srv, out := s.newServer(`{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n")
	require.NoError(s.T(), srv.Run(context.Background()))
	resp := s.decodeResponse(out)
	assert.Nil(s.T(), resp.Error)
	result, ok := resp.Result.(map[string]any)
	require.True(s.T(), ok)
	assert.Equal(s.T(), "2024-11-05", result["protocolVersion"])
}

func (s *ServerSuite) TestRun_ToolsList_ReturnsEveryRegisteredTool() {
	srv, out := s.newServer(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n")
	require.NoError(s.T(), srv.Run(context.Background()))
	resp := s.decodeResponse(out)
	require.Nil(s.T(), resp.Error)
	result := resp.Result.(map[string]any)
	tools := result["tools"].([]any)
	assert.Len(s.T(), tools, len(srv.tools))
}

func (s *ServerSuite) TestRun_UnknownMethod() {
	srv, out := s.newServer(`{"jsonrpc":"2.0","id":3,"method":"bogus"}` + "\n")
	require.NoError(s.T(), srv.Run(context.Background()))
	resp := s.decodeResponse(out)
	require.NotNil(s.T(), resp.Error)
	assert.Equal(s.T(), -32601, resp.Error.Code)
}

func (s *ServerSuite) TestRun_ParseError() {
	srv, out := s.newServer(`not json` + "\n")
	require.NoError(s.T(), srv.Run(context.Background()))
	resp := s.decodeResponse(out)
	require.NotNil(s.T(), resp.Error)
	assert.Equal(s.T(), -32700, resp.Error.Code)
}

func (s *ServerSuite) TestRun_ToolsCall_UnknownTool() {
	srv, out := s.newServer(`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"does_not_exist","arguments":{}}}` + "\n")
	require.NoError(s.T(), srv.Run(context.Background()))
	resp := s.decodeResponse(out)
	require.NotNil(s.T(), resp.Error)
	assert.Equal(s.T(), -32602, resp.Error.Code)
}

func (s *ServerSuite) TestRun_ToolsCall_InvalidParams() {
	srv, out := s.newServer(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":"not an object"}` + "\n")
	require.NoError(s.T(), srv.Run(context.Background()))
	resp := s.decodeResponse(out)
	require.NotNil(s.T(), resp.Error)
	assert.Equal(s.T(), -32602, resp.Error.Code)
}

func (s *ServerSuite) TestRun_ToolsCall_HandlerErrorReturnsIsError() {
	// save_memory rejects empty text before ever touching a store, so this exercises the
	// isError result path without needing a database.
	srv, out := s.newServer(`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"save_memory","arguments":{"text":""}}}` + "\n")
	require.NoError(s.T(), srv.Run(context.Background()))
	resp := s.decodeResponse(out)
	require.Nil(s.T(), resp.Error)
	result := resp.Result.(map[string]any)
	assert.Equal(s.T(), true, result["isError"])
}

func (s *ServerSuite) TestRun_BlankLinesAreSkipped() {
	srv, out := s.newServer("\n\n" + `{"jsonrpc":"2.0","id":7,"method":"initialize"}` + "\n")
	require.NoError(s.T(), srv.Run(context.Background()))
	assert.Equal(s.T(), 1, strings.Count(out.String(), `"jsonrpc"`))
}

func (s *ServerSuite) TestStringSchema_BuildsObjectPropertiesPerField() {
	spec := stringSchema("x", "desc", "a", "b")
	props := spec.InputSchema["properties"].(map[string]any)
	assert.Len(s.T(), props, 2)
	assert.Contains(s.T(), props, "a")
	assert.Contains(s.T(), props, "b")
}

func (s *ServerSuite) TestDecodeArgs_EmptyIsNoOp() {
	var v struct{ X string }
	assert.NoError(s.T(), decodeArgs(nil, &v))
}

package userreply

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrictObject(t *testing.T) {
	reply, err := Parse([]byte(`{"user_response": "continue", "cli_command": null}`))
	require.NoError(t, err)
	require.NotNil(t, reply.UserResponse)
	assert.Equal(t, "continue", *reply.UserResponse)
	assert.Nil(t, reply.CLICommand)
}

func TestParseEmptyStringsNormalizeToNil(t *testing.T) {
	reply, err := Parse([]byte(`{"user_response": "   ", "cli_command": ""}`))
	require.NoError(t, err)
	assert.Nil(t, reply.UserResponse)
	assert.Nil(t, reply.CLICommand)
}

func TestParseSalvagesEmbeddedObject(t *testing.T) {
	payload := []byte("Here is my reply: {\"user_response\": \"yes\", \"cli_command\": \"/skip\"} -- hope that helps")
	reply, err := Parse(payload)
	require.NoError(t, err)
	require.NotNil(t, reply.UserResponse)
	require.NotNil(t, reply.CLICommand)
	assert.Equal(t, "yes", *reply.UserResponse)
	assert.Equal(t, "/skip", *reply.CLICommand)
}

func TestParseSalvageIgnoresBracesInsideStrings(t *testing.T) {
	payload := []byte(`noise {"user_response": "a { b } c", "cli_command": null} trailing`)
	reply, err := Parse(payload)
	require.NoError(t, err)
	require.NotNil(t, reply.UserResponse)
	assert.Equal(t, "a { b } c", *reply.UserResponse)
}

func TestParseNoObjectIsMalformed(t *testing.T) {
	_, err := Parse([]byte("no json here at all"))
	require.Error(t, err)
	var malformed *ErrMalformed
	require.ErrorAs(t, err, &malformed)
}

func TestParseRejectsOverlongField(t *testing.T) {
	long := strings.Repeat("a", MaxFieldLength+1)
	_, err := Parse([]byte(`{"user_response": "` + long + `", "cli_command": null}`))
	require.Error(t, err)
}

func TestParseAllowsFieldAtExactLimit(t *testing.T) {
	exact := strings.Repeat("a", MaxFieldLength)
	reply, err := Parse([]byte(`{"user_response": "` + exact + `", "cli_command": null}`))
	require.NoError(t, err)
	assert.Equal(t, MaxFieldLength, len([]rune(*reply.UserResponse)))
}

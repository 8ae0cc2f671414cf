package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordReaderFromPipe(t *testing.T) {
	var prompts bytes.Buffer
	p := newPasswordReader(-1, strings.NewReader("first-secret\r\nsecond-secret\nlast"), &prompts)

	pw, confirm, err := p.readConfirmed("New password")
	require.NoError(t, err)
	assert.Equal(t, "first-secret", pw)
	assert.Equal(t, "second-secret", confirm)
	assert.Equal(t, "New password: Confirm new password: ", prompts.String())

	last, err := p.read("Password")
	require.NoError(t, err)
	assert.Equal(t, "last", last)

	_, err = p.read("Password")
	assert.ErrorIs(t, err, io.EOF)
}

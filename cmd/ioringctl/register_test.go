package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegisterCommand(t *testing.T) {
	cmd := newRegisterCommand()
	assert.NotNil(t, cmd)
	assert.Equal(t, "register", cmd.Use)
}

func TestRegisterCommandBuffers(t *testing.T) {
	cmd := newRegisterCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--buffer-count", "4", "--buffer-size", "512"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "registered 4 buffers of 512 bytes")
}

func TestRegisterCommandFiles(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "ioringctl-register-*")
	require.NoError(t, err)
	defer f.Close()

	cmd := newRegisterCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--file", f.Name()})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "registered 1 files")
}

func TestRegisterCommandMissingFile(t *testing.T) {
	cmd := newRegisterCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--file", "/does/not/exist"})

	err := cmd.Execute()
	require.Error(t, err)
}

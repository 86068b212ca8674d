package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTagsWho(t *testing.T) {
	l := New("dispatcher")
	buf := &bytes.Buffer{}
	l.SetOutput(buf)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	l.Info("tick")

	assert.Contains(t, buf.String(), "who=dispatcher")
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Setup("loud", false))
	require.NoError(t, Setup("debug", false))
	assert.Equal(t, logrus.DebugLevel, New("x").Level)
	require.NoError(t, Setup("info", false))
}

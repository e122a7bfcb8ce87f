package mail

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbox(t *testing.T) {
	o := &Outbox{}
	_, ok := o.Last()
	assert.False(t, ok)

	require.NoError(t, o.Send(context.Background(), "a@example.com", "hi", "body"))
	msg, ok := o.Last()
	require.True(t, ok)
	assert.Equal(t, "a@example.com", msg.To)

	o.Fail = errors.New("smtp down")
	assert.Error(t, o.Send(context.Background(), "b@example.com", "hi", "body"))
	assert.Equal(t, 1, o.Len())
}

func TestLogSender(t *testing.T) {
	log, hook := test.NewNullLogger()
	s := LogSender{Log: log}

	require.NoError(t, s.Send(context.Background(), "a@example.com", "Reset", "secret-token"))
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "a@example.com", hook.LastEntry().Data["to"])
	assert.NotContains(t, hook.LastEntry().Message, "secret-token")
}

func TestLogSenderBodyOnlyAtDebug(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	s := LogSender{Log: log}

	require.NoError(t, s.Send(context.Background(), "a@example.com", "Reset", "secret-token"))
	require.Len(t, hook.Entries, 2)
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
	assert.Equal(t, "secret-token", hook.LastEntry().Message)
}

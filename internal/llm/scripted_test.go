// ABOUTME: Tests for the scripted token source
// ABOUTME: Verifies playback order, terminal errors, and cancellation

package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedProvider_Playback(t *testing.T) {
	p := NewScriptedProvider("He", "llo")

	var got []string
	for tok := range p.Stream(context.Background(), nil) {
		require.NoError(t, tok.Err)
		got = append(got, tok.Text)
	}

	assert.Equal(t, []string{"He", "llo"}, got)
}

func TestScriptedProvider_TerminalError(t *testing.T) {
	scriptErr := errors.New("scripted failure")
	p := &ScriptedProvider{Tokens: []string{"a"}, Err: scriptErr}

	var texts []string
	var gotErr error
	for tok := range p.Stream(context.Background(), nil) {
		if tok.Err != nil {
			gotErr = tok.Err
			continue
		}
		texts = append(texts, tok.Text)
	}

	assert.Equal(t, []string{"a"}, texts)
	assert.ErrorIs(t, gotErr, scriptErr)
}

func TestScriptedProvider_Cancellation(t *testing.T) {
	p := &ScriptedProvider{Tokens: []string{"a", "b", "c"}, Delay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	out := p.Stream(ctx, nil)
	cancel()

	select {
	case _, open := <-out:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("stream did not close after cancellation")
	}
}

package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptSlotResolve(t *testing.T) {
	var slot PromptSlot

	assert.ErrorIs(t, slot.Resolve(PromptGuardCode, "1"), ErrNoPendingPrompt)

	answer, err := slot.Await(PromptGuardCode)
	require.NoError(t, err)

	kind, ok := slot.Pending()
	assert.True(t, ok)
	assert.Equal(t, PromptGuardCode, kind)

	_, err = slot.Await(PromptGuardCode)
	assert.ErrorIs(t, err, ErrPromptInFlight)
	assert.ErrorIs(t, slot.Resolve("other", "1"), ErrNoPendingPrompt, "mismatched kind must be rejected")

	received := make(chan string, 1)
	go func() { received <- <-answer }()

	require.NoError(t, slot.Resolve(PromptGuardCode, "123456"))
	assert.Equal(t, "123456", <-received)

	_, ok = slot.Pending()
	assert.False(t, ok, "slot must be empty after Resolve")
}

func TestPromptSlotCancel(t *testing.T) {
	var slot PromptSlot

	_, err := slot.Await(PromptGuardCode)
	require.NoError(t, err)
	slot.Cancel()

	assert.ErrorIs(t, slot.Resolve(PromptGuardCode, "1"), ErrNoPendingPrompt)

	_, err = slot.Await(PromptGuardCode)
	assert.NoError(t, err, "slot must be reusable after Cancel")
}

func TestPromptSlotResolveFailsWhenSessionEndsFirst(t *testing.T) {
	var slot PromptSlot

	_, err := slot.Await(PromptGuardCode)
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() { result <- slot.Resolve(PromptGuardCode, "AB12C") }()

	// Nobody reads the answer; the session tears down instead.
	time.Sleep(20 * time.Millisecond)
	slot.Cancel()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrNoPendingPrompt, "an untaken code must not be reported as delivered")
	case <-time.After(time.Second):
		t.Fatal("Resolve did not return after Cancel")
	}

	_, ok := slot.Pending()
	assert.False(t, ok)
}

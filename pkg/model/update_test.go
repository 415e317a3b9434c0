package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to UpdateStatus
		want     bool
	}{
		{UpdatePending, UpdateProcessing, true},
		{UpdatePending, UpdateFailed, true},
		{UpdatePending, UpdateCompleted, false},
		{UpdateProcessing, UpdateCompleted, true},
		{UpdateProcessing, UpdateFailed, true},
		{UpdateProcessing, UpdatePending, false},
		{UpdateProcessing, UpdateProcessing, false},
		{UpdateCompleted, UpdateFailed, false},
		{UpdateFailed, UpdateProcessing, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "CanTransition(%s, %s)", tc.from, tc.to)
	}
}

func TestBusID(t *testing.T) {
	local := &UpdateRequest{ID: "local-1", Source: SourceLocal}
	assert.Equal(t, "local-1", local.BusID())

	external := "remote-7"
	remote := &UpdateRequest{ID: "local-2", ExternalID: &external, Source: SourceRemote}
	assert.Equal(t, "remote-7", remote.BusID())
}

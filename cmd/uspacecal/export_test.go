package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"uspacecal/internal/deliver"
	"uspacecal/internal/pipeline"
)

func TestNeedsHandoffPage(t *testing.T) {
	assert.True(t, needsHandoffPage(pipeline.Result{Success: true, HandedOff: true}))
	assert.True(t, needsHandoffPage(pipeline.Result{
		Success:      true,
		Subscription: &deliver.SubscribeResult{Outcome: deliver.OutcomeFallback},
	}))

	assert.False(t, needsHandoffPage(pipeline.Result{
		Success:      true,
		Subscription: &deliver.SubscribeResult{Outcome: deliver.OutcomeOpened},
	}))
	assert.False(t, needsHandoffPage(pipeline.Result{Success: true}))
}

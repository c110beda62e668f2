package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjornslib/attractor/internal/validator"
	"github.com/bjornslib/attractor/pkg/pipeline"
	"github.com/bjornslib/attractor/pkg/pipeline/dot"
)

func TestScaffoldProducesValidPipeline(t *testing.T) {
	tasks := taskList{
		Name: "checkout",
		Tasks: []task{
			{ID: "cart", BeadID: "cart_impl", Acceptance: "unit tests pass", Test: true},
			{ID: "payment", BeadID: "payment_impl", Acceptance: "sandbox charge succeeds"},
		},
	}

	g, err := scaffold(tasks)
	require.NoError(t, err)

	assert.Empty(t, validator.Validate(g))
	assert.NotNil(t, g.Start())
	assert.NotNil(t, g.Exit())

	at := g.Node("cart_at")
	require.NotNil(t, at)
	assert.Equal(t, "cart", at.PromiseAC)
	assert.Equal(t, at, g.AcceptanceTestFor("cart"))

	// Round-trips through the serializer.
	text := dot.Serialize(g)
	parsed, err := dot.Parse(text)
	require.NoError(t, err)
	assert.Equal(t, g.NodeIDs(), parsed.NodeIDs())
	assert.Equal(t, pipeline.HandlerCodergen, parsed.Node("payment").Handler)
}

func TestScaffoldRejectsEmptyTaskID(t *testing.T) {
	_, err := scaffold(taskList{Name: "bad", Tasks: []task{{Acceptance: "x"}}})
	require.Error(t, err)
}

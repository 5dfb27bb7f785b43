package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInOrder_RunsStepsSequentially(t *testing.T) {
	var order []string
	step := func(name string, err error) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return err
		}
	}
	errHistory := errors.New("history close failed")

	op := inOrder(
		step("server", nil),
		step("history", errHistory),
		step("tracing", nil),
	)
	err := op(context.Background())

	assert.Equal(t, []string{"server", "history", "tracing"}, order)
	assert.ErrorIs(t, err, errHistory)
}

func TestInOrder_NoErrors(t *testing.T) {
	assert.NoError(t, inOrder()(context.Background()))
}

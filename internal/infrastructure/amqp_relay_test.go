package infrastructure

import (
	"context"
	"testing"

	"project_atendimento/internal/entities"

	"github.com/stretchr/testify/assert"
)

type scriptedConfirm struct {
	acked bool
	err   error
}

func (c scriptedConfirm) WaitContext(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.acked, c.err
}

func TestAwaitConfirm(t *testing.T) {
	assert.NoError(t, awaitConfirm(context.Background(), scriptedConfirm{acked: true}))

	err := awaitConfirm(context.Background(), scriptedConfirm{acked: false})
	assert.ErrorIs(t, err, entities.ErrGatewayRejected)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = awaitConfirm(ctx, scriptedConfirm{acked: true})
	assert.ErrorIs(t, err, entities.ErrInstanceUnreachable)
}

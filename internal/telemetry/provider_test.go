package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	cases := []Settings{
		{},
		{Enabled: true},
		{Endpoint: "http://collector:4318"},
	}
	for _, s := range cases {
		shutdown, err := Setup(context.Background(), s)
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	}
}

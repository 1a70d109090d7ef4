package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "ledgerd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("authorization=Bearer x, ,broken,team = ledger")
	require.Equal(t, map[string]string{"authorization": "Bearer x", "team": "ledger"}, headers)
}

package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall-net/guildhall/pkg/envelope"
)

func noop(_ []string, _ *envelope.Inbound) error { return nil }

func TestResolveFlat(t *testing.T) {
	table := Table{"login": Op(noop)}
	op, remaining, err := Resolve(table, []string{"login"})
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Empty(t, remaining)
}

func TestResolveNested(t *testing.T) {
	table := Table{
		"users": Sub(Table{"delete_user": Op(noop)}),
	}
	op, remaining, err := Resolve(table, []string{"users", "delete_user"})
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Empty(t, remaining)
}

func TestResolveUnknownSegment(t *testing.T) {
	table := Table{
		"users": Sub(Table{"delete_user": Op(noop)}),
	}
	_, _, err := Resolve(table, []string{"unknown", "delete_user"})
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestResolveExhaustedAtSubTable(t *testing.T) {
	table := Table{
		"users": Sub(Table{"delete_user": Op(noop)}),
	}
	_, _, err := Resolve(table, []string{"users"})
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestResolveEmptySegments(t *testing.T) {
	_, _, err := Resolve(Table{"ping": Op(noop)}, nil)
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestResolveLeavesTrailingSegments(t *testing.T) {
	table := Table{"get_post": Op(noop)}
	op, remaining, err := Resolve(table, []string{"get_post", "extra", "bits"})
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, []string{"extra", "bits"}, remaining)
}

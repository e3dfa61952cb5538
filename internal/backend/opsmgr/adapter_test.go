package opsmgr

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresURL(t *testing.T) {
	_, err := New(hclog.NewNullLogger(), "om1", map[string]interface{}{
		"username": "admin",
	})
	require.Error(t, err)
}

func TestNewDecodesProperties(t *testing.T) {
	a, err := New(hclog.NewNullLogger(), "om1", map[string]interface{}{
		"url":      "https://opsmgr.example.com",
		"username": "admin",
		"password": "s3cr3t",
	})
	require.NoError(t, err)

	adapter, ok := a.(*Adapter)
	require.True(t, ok)
	require.Equal(t, "admin", adapter.cfg.Username)
	require.NotNil(t, adapter.http)
}

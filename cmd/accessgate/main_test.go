package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lexops/accessgate/internal/gate"
	"github.com/lexops/accessgate/internal/gate/entitlement"
	"github.com/lexops/accessgate/internal/gate/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededConfig(t *testing.T) *gate.Config {
	t.Helper()
	url := "sqlite://" + filepath.Join(t.TempDir(), "entitlements.db")
	store, err := registry.Open(context.Background(), registry.Options{URL: url})
	require.NoError(t, err)
	_, err = store.UpsertGrant(context.Background(), &entitlement.Record{Token: "INV1", Email: "a@x.com", CustomerName: "Ana"})
	require.NoError(t, err)
	require.NoError(t, store.Close())
	return &gate.Config{StoreURL: url}
}

func TestCheckTokenValid(t *testing.T) {
	cfg := seededConfig(t)
	var out bytes.Buffer

	valid, err := checkToken(context.Background(), cfg, "INV1", &out)
	require.NoError(t, err)
	assert.True(t, valid)

	var got checkTokenOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "Valid", got.Code)
	assert.Equal(t, 200, got.Status)
	assert.Equal(t, "a@x.com", got.Email)
	assert.Equal(t, "Ana", got.CustomerName)
}

func TestCheckTokenUnknown(t *testing.T) {
	cfg := seededConfig(t)
	var out bytes.Buffer

	valid, err := checkToken(context.Background(), cfg, "NOPE", &out)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Contains(t, out.String(), `"TokenInvalid"`)
}

func TestCheckTokenWithoutStore(t *testing.T) {
	var out bytes.Buffer
	valid, err := checkToken(context.Background(), &gate.Config{}, "INV1", &out)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Contains(t, out.String(), `"Unavailable"`)
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "accessgate "+Version))
}

func TestCheckTokenRequiresArgument(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"check-token"})
	assert.Error(t, cmd.Execute())
}

package couch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/Ratio1/couch_sdk_go/internal/config"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestNewFromEnvDefaultsToMock(t *testing.T) {
	client, mode, err := newFromEnv(envMap(nil))
	assert.NilError(t, err)
	assert.Check(t, is.Equal(mode, ModeMock))
	assert.Check(t, is.Equal(client.Endpoint(), mockEndpoint))

	ctx := context.Background()
	assert.NilError(t, client.CreateDatabase(ctx, "scratch", nil))
	res, err := Use[map[string]any](client, "scratch").Insert(ctx, map[string]any{"k": "v"}, nil)
	assert.NilError(t, err)
	assert.Check(t, res.OK)
}

func TestNewFromEnvAutoWithEndpoint(t *testing.T) {
	client, mode, err := newFromEnv(envMap(map[string]string{
		config.EnvEndpoint: "http://db.internal:5984",
		config.EnvUser:     "admin",
		config.EnvPassword: "secret",
	}))
	assert.NilError(t, err)
	assert.Check(t, is.Equal(mode, ModeHTTP))
	assert.Check(t, is.Equal(client.Endpoint(), "http://db.internal:5984"))
}

func TestNewFromEnvProfileEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "couch.yaml")
	assert.NilError(t, os.WriteFile(path, []byte("endpoint: http://from-profile:5984\n"), 0o600))

	client, mode, err := newFromEnv(envMap(map[string]string{config.EnvConfig: path}))
	assert.NilError(t, err)
	assert.Check(t, is.Equal(mode, ModeHTTP))
	assert.Check(t, is.Equal(client.Endpoint(), "http://from-profile:5984"))
}

func TestNewFromEnvHTTPRequiresEndpoint(t *testing.T) {
	_, _, err := newFromEnv(envMap(map[string]string{config.EnvMode: "http"}))
	assert.Check(t, is.ErrorContains(err, config.EnvEndpoint))
}

func TestNewFromEnvForcedMock(t *testing.T) {
	_, mode, err := newFromEnv(envMap(map[string]string{
		config.EnvMode:     "mock",
		config.EnvEndpoint: "http://ignored:5984",
	}))
	assert.NilError(t, err)
	assert.Check(t, is.Equal(mode, ModeMock))
}

func TestNewFromEnvInvalidMode(t *testing.T) {
	_, _, err := newFromEnv(envMap(map[string]string{config.EnvMode: "grpc"}))
	assert.Check(t, is.ErrorContains(err, "grpc"))
}

func TestNewFromEnvSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.jsonc")
	seed := `{
  // users database
  "users": [
    {"_id": "alice", "name": "Alice"},
    {"_id": "bob", "name": "Bob",},
  ],
}`
	assert.NilError(t, os.WriteFile(path, []byte(seed), 0o600))

	client, mode, err := newFromEnv(envMap(map[string]string{config.EnvSeed: path}))
	assert.NilError(t, err)
	assert.Check(t, is.Equal(mode, ModeMock))

	res, err := Use[map[string]any](client, "users").Get(context.Background(), "bob", nil)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(res.Value.Body["name"], "Bob"))
}

func TestNewFromEnvMissingSeed(t *testing.T) {
	_, _, err := newFromEnv(envMap(map[string]string{config.EnvSeed: filepath.Join(t.TempDir(), "nope.json")}))
	assert.Check(t, is.ErrorContains(err, "load mock seed"))
}

func TestConfigOptions(t *testing.T) {
	assert.Check(t, is.Len(configOptions(&config.Config{}), 0))
	assert.Check(t, is.Len(configOptions(&config.Config{
		Username:    "u",
		Timeout:     time.Second,
		Compression: true,
	}), 3))
}

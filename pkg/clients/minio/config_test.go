package minio

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"valid", Config{Endpoint: "minio:9000", AccessKey: "ak"}, ""},
		{"empty endpoint", Config{AccessKey: "ak"}, "endpoint must not be empty"},
		{"endpoint with scheme", Config{Endpoint: "http://minio:9000", AccessKey: "ak"}, "without a scheme"},
		{"empty access key", Config{Endpoint: "minio:9000"}, "access_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultRegion, cfg.Region)
			assert.Equal(t, DefaultBucket, cfg.Bucket)
		})
	}
}

func TestConfig_ValidateKeepsExplicitValues(t *testing.T) {
	t.Parallel()
	cfg := Config{Endpoint: "minio:9000", AccessKey: "ak", Region: "eu-west-1", Bucket: "keys"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "keys", cfg.Bucket)
}

func TestConfig_Enabled(t *testing.T) {
	t.Parallel()
	assert.False(t, (&Config{Bucket: "authgate"}).Enabled())
	assert.True(t, (&Config{Endpoint: "minio:9000"}).Enabled())
}

func TestSecret_NeverPrinted(t *testing.T) {
	t.Parallel()

	cfg := Config{Endpoint: "minio:9000", AccessKey: "ak", SecretKey: Secret("hunter2")}
	assert.NotContains(t, fmt.Sprintf("%v %+v %#v", cfg, cfg, cfg), "hunter2")

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.Equal(t, "hunter2", cfg.SecretKey.Value())
}

func TestTruncateStatement(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "GetObject a", truncateStatement("GetObject a"))

	long := "GetObject " + strings.Repeat("ü", 200)
	got := truncateStatement(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Len(t, []rune(got), maxStatementTruncateLen+3)
}

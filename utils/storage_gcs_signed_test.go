package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSignerFromCredentialsJSON(t *testing.T) {
	t.Setenv("GCS_CREDENTIALS_JSON", `{"client_email":"svc@p.iam.gserviceaccount.com","private_key":"-----BEGIN\\nKEY-----"}`)
	email, key, ok, err := loadSignerFromEnv()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "svc@p.iam.gserviceaccount.com", email)
	assert.Equal(t, "-----BEGIN\nKEY-----", string(key))
}

func TestLoadSignerRejectsIncompleteJSON(t *testing.T) {
	t.Setenv("GCS_CREDENTIALS_JSON", `{"client_email":"svc@p.iam.gserviceaccount.com"}`)
	_, _, _, err := loadSignerFromEnv()
	assert.Error(t, err)
}

func TestLoadSignerFallsThroughWithoutKeys(t *testing.T) {
	t.Setenv("GCS_CREDENTIALS_JSON", "")
	t.Setenv("GCS_SIGNER_EMAIL", "svc@p.iam.gserviceaccount.com")
	t.Setenv("GCS_SIGNER_PRIVATE_KEY", "")
	_, _, ok, err := loadSignerFromEnv()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignDownloadNeedsBucket(t *testing.T) {
	_, err := SignDownload(t.Context(), "", "exports/x.xlsx", 0)
	assert.Error(t, err)
}

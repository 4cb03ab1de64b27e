package statefile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/orbitalfiles/orbital/internal/providerid"
)

type s3Config struct {
	Bucket string `json:"bucket"`
	Region string `json:"region"`
}

func TestEncodeDecode_PreservesConfigAndToken(t *testing.T) {
	expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	tok := &oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", Expiry: expiry}

	s, err := New(providerid.TypeOneDrive, map[string]string{"drive_id": "d1"}, tok)
	require.NoError(t, err)

	data, err := Encode(s)
	require.NoError(t, err)

	got, err := Decode(data, providerid.TypeOneDrive)
	require.NoError(t, err)
	require.NotNil(t, got.Token)
	assert.Equal(t, "rt", got.Token.RefreshToken)
	assert.True(t, expiry.Equal(got.Token.Expiry))
	assert.JSONEq(t, `{"drive_id":"d1"}`, string(got.Config))
}

func TestDecode_NoToken(t *testing.T) {
	s, err := New(providerid.TypeS3, s3Config{Bucket: "b", Region: "eu-west-1"}, nil)
	require.NoError(t, err)

	data, err := Encode(s)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"token"`)

	got, err := Decode(data, providerid.TypeS3)
	require.NoError(t, err)
	assert.Nil(t, got.Token)

	var cfg s3Config
	require.NoError(t, got.DecodeConfig(&cfg))
	assert.Equal(t, "b", cfg.Bucket)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"garbage", `not json`, ErrMalformed},
		{"missing type", `{"config":{}}`, ErrMalformed},
		{"type mismatch", `{"type":"s3","config":{}}`, ErrTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data), providerid.TypeLocal)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecode_NullConfig(t *testing.T) {
	got, err := Decode([]byte(`{"type":"gdrive","config":null}`), providerid.TypeGDrive)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got.Config))
}

package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphafeed/marketpipe/internal/domain"
)

func validEnvelope(t *testing.T) *Envelope {
	t.Helper()
	payload := json.RawMessage(`{"symbol":"600000","close":10.5}`)
	return &Envelope{
		Source:      "sina",
		Domain:      domain.Quotes,
		Version:     CurrentVersion,
		IngestTS:    time.Now(),
		PayloadHash: ComputeHash(payload),
		Payload:     payload,
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	env := validEnvelope(t)
	b, err := Encode(env)
	require.NoError(t, err)

	decoded, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, env.Source, decoded.Source)
	assert.Equal(t, env.Domain, decoded.Domain)
	assert.Equal(t, env.PayloadHash, decoded.PayloadHash)
	assert.JSONEq(t, string(env.Payload), string(decoded.Payload))
	assert.Nil(t, decoded.ValidateSchema())
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"not json", []byte("::garbage::")},
		{"truncated", []byte(`{"source":"sina",`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			require.Error(t, err)
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
		})
	}
}

func TestValidateSchemaMissingFields(t *testing.T) {
	env := validEnvelope(t)
	env.Source = ""
	env.PayloadHash = ""

	schemaErr := env.ValidateSchema()
	require.NotNil(t, schemaErr)
	assert.Contains(t, schemaErr.MissingFields, "source")
	assert.Contains(t, schemaErr.MissingFields, "payload_hash")
	assert.False(t, schemaErr.UnknownVersion)
}

func TestValidateSchemaUnknownDomain(t *testing.T) {
	env := validEnvelope(t)
	env.Domain = domain.Domain("weather")

	schemaErr := env.ValidateSchema()
	require.NotNil(t, schemaErr)
	assert.NotEmpty(t, schemaErr.TypeMismatches)
}

func TestValidateSchemaHashMismatch(t *testing.T) {
	env := validEnvelope(t)
	env.PayloadHash = ComputeHash([]byte(`{"other":"payload"}`))

	schemaErr := env.ValidateSchema()
	require.NotNil(t, schemaErr)
	assert.Contains(t, schemaErr.Error(), "digest mismatch")
}

func TestValidateSchemaVersionCompatibility(t *testing.T) {
	tests := []struct {
		name    string
		version uint32
		wantErr bool
	}{
		{"current", CurrentVersion, false},
		{"older", 1, false},
		{"newer compatible", MaxCompatibleVersion, false},
		{"newer incompatible", MaxCompatibleVersion + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnvelope(t)
			env.Version = tt.version
			schemaErr := env.ValidateSchema()
			if tt.wantErr {
				require.NotNil(t, schemaErr)
				assert.True(t, schemaErr.UnknownVersion)
			} else {
				assert.Nil(t, schemaErr)
			}
		})
	}
}

func TestComputeHashDeterministic(t *testing.T) {
	payload := []byte(`{"symbol":"600000"}`)
	assert.Equal(t, ComputeHash(payload), ComputeHash(payload))
	assert.Len(t, ComputeHash(payload), 32) // 128 bits, hex encoded
	assert.NotEqual(t, ComputeHash(payload), ComputeHash([]byte(`{"symbol":"600001"}`)))
}

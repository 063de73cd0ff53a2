package chains

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sigweihq/dotclaim/pkg/types"
)

// mockScheme is a simple test scheme
type mockScheme struct {
	name string
}

func (m *mockScheme) Name() string {
	return m.name
}

func (m *mockScheme) Attest(ctx context.Context, provider WalletProvider, account, destination string, now time.Time) (*types.ClaimAttestation, error) {
	return nil, nil // Not needed for registry tests
}

func (m *mockScheme) Recover(attestation *types.ClaimAttestation) (string, error) {
	return "", nil // Not needed for registry tests
}

func TestRegistryIdempotent(t *testing.T) {
	registry := NewRegistry()

	scheme1 := &mockScheme{name: "personal_sign"}
	scheme2 := &mockScheme{name: "personal_sign"}

	err := registry.Register(scheme1)
	assert.NoError(t, err, "First registration should succeed")

	err = registry.Register(scheme2)
	assert.NoError(t, err, "Second registration should succeed (idempotent)")

	retrieved, err := registry.Get("personal_sign")
	assert.NoError(t, err)
	assert.Same(t, scheme2, retrieved, "Second scheme should have replaced the first")
}

func TestRegistryRejectsNil(t *testing.T) {
	registry := NewRegistry()
	assert.Error(t, registry.Register(nil))
}

func TestRegistryConcurrentRegistration(t *testing.T) {
	registry := NewRegistry()

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			err := registry.Register(&mockScheme{name: "eip712"})
			assert.NoError(t, err, "Concurrent registration should not fail")
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	assert.True(t, registry.IsSupported("eip712"))
}

func TestRegistrySupportedSchemesSorted(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"personal_sign", "eip712"} {
		assert.NoError(t, registry.Register(&mockScheme{name: name}))
	}

	assert.Equal(t, []string{"eip712", "personal_sign"}, registry.GetSupportedSchemes())
}

func TestRegistryUnregister(t *testing.T) {
	registry := NewRegistry()

	assert.NoError(t, registry.Register(&mockScheme{name: "eip712"}))
	assert.True(t, registry.IsSupported("eip712"))

	registry.Unregister("eip712")
	assert.False(t, registry.IsSupported("eip712"))

	_, err := registry.Get("eip712")
	assert.Error(t, err)
}

func TestGlobalRegistryLifecycle(t *testing.T) {
	ResetGlobalRegistry()
	assert.Nil(t, GetGlobalRegistry())

	r := InitGlobalRegistry()
	assert.Same(t, r, InitGlobalRegistry())
	assert.Same(t, r, GetGlobalRegistry())

	ResetGlobalRegistry()
	assert.Nil(t, GetGlobalRegistry())
}

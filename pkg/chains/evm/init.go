package evm

import (
	"log/slog"

	"github.com/sigweihq/dotclaim/pkg/chains"
)

// DomainConfig overrides the EIP-712 domain of the typed-data scheme
type DomainConfig struct {
	Name    string
	Version string
	ChainID int64
}

// InitAttestationSchemes registers both attestation schemes in the global registry.
// A nil domain uses the airdrop's published domain.
func InitAttestationSchemes(logger *slog.Logger, domain *DomainConfig) (*chains.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	registry := chains.InitGlobalRegistry()
	if err := RegisterSchemes(registry, domain); err != nil {
		return nil, err
	}

	logger.Info("attestation schemes registered", "schemes", registry.GetSupportedSchemes())
	return registry, nil
}

// RegisterSchemes registers personal_sign and eip712 in registry
func RegisterSchemes(registry *chains.Registry, domain *DomainConfig) error {
	typed := NewDefaultTypedDataScheme()
	if domain != nil {
		typed = NewTypedDataScheme(domain.Name, domain.Version, domain.ChainID)
	}

	for _, scheme := range []chains.AttestationScheme{NewPersonalSignScheme(), typed} {
		if err := registry.Register(scheme); err != nil {
			return err
		}
	}
	return nil
}

package escrow

import (
	"github.com/gagliardetto/solana-go"

	"hybrid-swap/internal/domain"
)

// InitDefaults fill the parameters an escrow is initialized with.
type InitDefaults struct {
	NamePrefix        string            `yaml:"name_prefix"`
	BaseURI           string            `yaml:"base_uri"`
	IndexRange        domain.IndexRange `yaml:"index_range"`
	ExchangeRate      uint64            `yaml:"exchange_rate"`
	ProtocolFeeAmount uint64            `yaml:"protocol_fee_amount"`
	NetworkFeeAmount  uint64            `yaml:"network_fee_amount"`
	RerollEnabled     bool              `yaml:"reroll_enabled"`
	// FeeLocation receives protocol fees; zero means the authority.
	FeeLocation string `yaml:"fee_location"`
}

// DefaultInitDefaults returns the stock initialization values.
func DefaultInitDefaults() InitDefaults {
	return InitDefaults{
		NamePrefix:    "Moonlambo",
		BaseURI:       "https://base-uri/",
		IndexRange:    domain.IndexRange{Min: 0, Max: 15},
		ExchangeRate:  1_000_000_000,
		RerollEnabled: true,
	}
}

// Params builds the expected parameters of the escrow for collection.
// The name is the prefix followed by the first characters of the authority.
func (d InitDefaults) Params(collection, token, authority solana.PublicKey) (domain.EscrowParams, error) {
	fee := authority
	if d.FeeLocation != "" {
		pk, err := solana.PublicKeyFromBase58(d.FeeLocation)
		if err != nil {
			return domain.EscrowParams{}, err
		}
		fee = pk
	}

	wallet := authority.String()
	if len(wallet) > 8 {
		wallet = wallet[:8]
	}
	return domain.EscrowParams{
		Collection:        collection,
		SettlementToken:   token,
		Authority:         authority,
		FeeLocation:       fee,
		Name:              d.NamePrefix + " " + wallet,
		MetadataBaseURI:   d.BaseURI,
		IndexRange:        d.IndexRange,
		ExchangeRate:      d.ExchangeRate,
		ProtocolFeeAmount: d.ProtocolFeeAmount,
		NetworkFeeAmount:  d.NetworkFeeAmount,
		RerollEnabled:     d.RerollEnabled,
	}, nil
}

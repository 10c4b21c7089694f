package domain

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountRoundTrip(t *testing.T) {
	cases := []struct {
		raw      uint64
		decimals uint8
	}{
		{0, 0},
		{1, 9},
		{1_500_000, 6},
		{999_999_999, 9},
		{^uint64(0), 0},
		{^uint64(0), 9},
		{123456789, 18},
	}
	for _, tc := range cases {
		display := ToDisplay(tc.raw, tc.decimals)
		back, err := FromDisplay(display, tc.decimals)
		require.NoError(t, err, "raw=%d decimals=%d", tc.raw, tc.decimals)
		assert.Equal(t, tc.raw, back, "raw=%d decimals=%d", tc.raw, tc.decimals)
	}
}

func TestToDisplay(t *testing.T) {
	assert.Equal(t, "1.5", ToDisplay(1_500_000, 6).String())
	assert.Equal(t, "0.000000001", ToDisplay(1, 9).String())
	assert.Equal(t, "42", ToDisplay(42, 0).String())
}

func TestFromDisplayRejects(t *testing.T) {
	_, err := FromDisplay(decimal.RequireFromString("-1"), 6)
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = FromDisplay(decimal.RequireFromString("0.0000001"), 6)
	assert.ErrorIs(t, err, ErrAmountPrecision)

	_, err = FromDisplay(decimal.RequireFromString("18446744073709551616"), 0)
	assert.ErrorIs(t, err, ErrAmountOverflow)
}

func TestParseDisplay(t *testing.T) {
	raw, err := ParseDisplay("2.25", 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(225), raw)

	raw, err = ParseDisplay("2.50", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), raw)

	_, err = ParseDisplay("two", 2)
	assert.Error(t, err)
}

func TestDirection(t *testing.T) {
	assert.Equal(t, TokenToAsset, AssetToToken.Opposite())
	assert.Equal(t, AssetToToken, TokenToAsset.Opposite())
	assert.True(t, AssetToToken.IsValid())
	assert.False(t, Direction("SIDEWAYS").IsValid())
}

func TestNewSwapRequest(t *testing.T) {
	rec := EscrowRecord{
		EscrowAddress:   solana.NewWallet().PublicKey(),
		Collection:      solana.NewWallet().PublicKey(),
		SettlementToken: solana.NewWallet().PublicKey(),
		ExchangeRate:    100,
	}

	req, err := NewSwapRequest(rec, TokenToAsset)
	require.NoError(t, err)
	assert.Equal(t, rec.EscrowAddress, req.EscrowAddress())
	assert.Equal(t, rec.Collection, req.Collection())
	assert.Equal(t, rec.SettlementToken, req.SettlementToken())
	assert.Equal(t, TokenToAsset, req.Direction())
	assert.Equal(t, rec, req.Escrow())

	_, err = NewSwapRequest(rec, Direction(""))
	assert.Error(t, err)

	rec.EscrowAddress = solana.PublicKey{}
	_, err = NewSwapRequest(rec, AssetToToken)
	assert.Error(t, err)
}

package hybrid

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"hybrid-swap/internal/domain"
)

// ErrNotEscrowAccount is returned when data does not start with the escrow discriminator.
var ErrNotEscrowAccount = errors.New("account is not an escrow")

// DecodeEscrow decodes an escrow account stored at addr.
func DecodeEscrow(addr solana.PublicKey, data []byte) (domain.EscrowRecord, error) {
	if len(data) < 8 || !bytes.Equal(data[:8], escrowAccountDisc[:]) {
		return domain.EscrowRecord{}, ErrNotEscrowAccount
	}

	r := newReader(data[8:])
	rec := domain.EscrowRecord{EscrowAddress: addr}
	rec.Collection = r.pubkey()
	rec.Authority = r.pubkey()
	rec.SettlementToken = r.pubkey()
	rec.FeeLocation = r.pubkey()
	rec.Name = r.str()
	rec.MetadataBaseURI = r.str()
	rec.IndexRange.Max = r.u64()
	rec.IndexRange.Min = r.u64()
	rec.ExchangeRate = r.u64()
	rec.ProtocolFeeAmount = r.u64()
	rec.NetworkFeeAmount = r.u64()
	rec.Count = r.u64()
	rec.RerollEnabled = r.u16() == PathReroll
	rec.Bump = r.u8()

	if r.err != nil {
		return domain.EscrowRecord{}, fmt.Errorf("decode escrow %s: %w", addr, r.err)
	}
	return rec, nil
}

// EncodeEscrow lays out an escrow account the way the program stores it.
func EncodeEscrow(rec domain.EscrowRecord) []byte {
	w := newWriter()
	w.bytes(escrowAccountDisc[:])
	w.pubkey(rec.Collection)
	w.pubkey(rec.Authority)
	w.pubkey(rec.SettlementToken)
	w.pubkey(rec.FeeLocation)
	w.str(rec.Name)
	w.str(rec.MetadataBaseURI)
	w.u64(rec.IndexRange.Max)
	w.u64(rec.IndexRange.Min)
	w.u64(rec.ExchangeRate)
	w.u64(rec.ProtocolFeeAmount)
	w.u64(rec.NetworkFeeAmount)
	w.u64(rec.Count)
	w.u16(pathOf(rec.RerollEnabled))
	w.u8(rec.Bump)
	return w.data()
}

func pathOf(reroll bool) uint16 {
	if reroll {
		return PathReroll
	}
	return PathNoReroll
}

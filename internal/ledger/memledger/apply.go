package memledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/hybrid"
	"hybrid-swap/internal/ledger"
	"hybrid-swap/internal/pda"
	"hybrid-swap/internal/programs"
)

// Token program custom errors.
const (
	tokenErrInsufficientFunds = hybrid.TokenErrInsufficientFunds
	tokenErrMintMismatch      = 3
	tokenErrOwnerMismatch     = 4
)

type failure struct {
	cpi     bool             // raised by program, invoked by the instruction's program
	program solana.PublicKey
	code    uint32
	hasCode bool
	reason  string
}

func custom(code uint32) *failure { return &failure{code: code, hasCode: true} }
func reject(reason string) *failure { return &failure{reason: reason} }

// apply executes ixs against s, stopping at the first failing instruction.
func (l *Ledger) apply(s *state, payer solana.PublicKey, ixs []solana.Instruction) error {
	for i, ix := range ixs {
		for _, m := range ix.Accounts() {
			if m.IsSigner && !m.PublicKey.Equals(payer) {
				return &ledger.ProgramError{Index: i, Program: ix.ProgramID(), Reason: "MissingRequiredSignature"}
			}
		}
		data, err := ix.Data()
		if err != nil {
			return fmt.Errorf("instruction %d data: %w", i, err)
		}

		var f *failure
		switch program := ix.ProgramID(); {
		case program.Equals(programs.ComputeBudgetProgramID):
		case program.Equals(solana.TokenProgramID):
			f = l.applyToken(s, ix.Accounts(), data)
		case program.Equals(solana.SPLAssociatedTokenAccountProgramID):
			f = l.applyATA(s, ix.Accounts(), data)
		case program.Equals(hybrid.ProgramID):
			f = l.applyHybrid(s, ix.Accounts(), data)
		default:
			f = reject("UnsupportedProgramId")
		}
		if f != nil {
			raisedBy := ix.ProgramID()
			if f.cpi {
				raisedBy = f.program
			}
			return &ledger.ProgramError{
				Index:   i,
				Program: raisedBy,
				Code:    f.code,
				HasCode: f.hasCode,
				Reason:  f.reason,
			}
		}
	}
	return nil
}

func (l *Ledger) applyToken(s *state, metas []*solana.AccountMeta, data []byte) *failure {
	amount, ok := programs.DecodeTransfer(data)
	if !ok || len(metas) < 3 {
		return reject("InvalidInstructionData")
	}
	return transfer(s, metas[0].PublicKey, metas[1].PublicKey, metas[2].PublicKey, amount)
}

func transfer(s *state, src, dst, owner solana.PublicKey, amount uint64) *failure {
	from, ok := s.tokenAccount(src)
	if !ok {
		return reject("InvalidAccountData")
	}
	to, ok := s.tokenAccount(dst)
	if !ok {
		return reject("InvalidAccountData")
	}
	if !from.Owner.Equals(owner) {
		return custom(tokenErrOwnerMismatch)
	}
	if !from.Mint.Equals(to.Mint) {
		return custom(tokenErrMintMismatch)
	}
	if from.Amount < amount {
		return custom(tokenErrInsufficientFunds)
	}
	from.Amount -= amount
	s.putTokenAccount(src, from)
	to, _ = s.tokenAccount(dst)
	to.Amount += amount
	s.putTokenAccount(dst, to)
	return nil
}

func (l *Ledger) applyATA(s *state, metas []*solana.AccountMeta, data []byte) *failure {
	if !programs.IsCreateAssociatedIdempotent(data) || len(metas) < 4 {
		return reject("InvalidInstructionData")
	}
	ata, owner, mint := metas[1].PublicKey, metas[2].PublicKey, metas[3].PublicKey
	return ensureATA(s, ata, owner, mint)
}

func ensureATA(s *state, ata, owner, mint solana.PublicKey) *failure {
	want, err := pda.AssociatedTokenAddress(owner, mint)
	if err != nil || !want.Equals(ata) {
		return reject("InvalidSeeds")
	}
	if _, exists := s.accounts[ata]; exists {
		if _, ok := s.tokenAccount(ata); !ok {
			return reject("IllegalOwner")
		}
		return nil
	}
	s.putTokenAccount(ata, programs.TokenAccount{Mint: mint, Owner: owner})
	return nil
}

func (l *Ledger) applyHybrid(s *state, metas []*solana.AccountMeta, data []byte) *failure {
	dec, err := hybrid.DecodeInstruction(data)
	if err != nil {
		return reject("InstructionFallbackNotFound")
	}
	switch dec.Kind {
	case hybrid.KindInitEscrow:
		return l.initEscrow(s, metas, *dec.Init)
	case hybrid.KindRelease, hybrid.KindCapture:
		if len(metas) < hybrid.SettleATAProgram+1 {
			return reject("NotEnoughAccountKeys")
		}
		if dec.Kind == hybrid.KindRelease {
			return l.release(s, metas)
		}
		return l.capture(s, metas)
	}
	return reject("InstructionFallbackNotFound")
}

func (l *Ledger) initEscrow(s *state, metas []*solana.AccountMeta, args hybrid.InitEscrowArgs) *failure {
	if len(metas) < 6 {
		return reject("NotEnoughAccountKeys")
	}
	escrow, authority, collection := metas[0].PublicKey, metas[1].PublicKey, metas[2].PublicKey
	token, feeLocation, feeATA := metas[3].PublicKey, metas[4].PublicKey, metas[5].PublicKey

	want, bump, err := pda.NewDeriver(hybrid.ProgramID).EscrowAddress(collection)
	if err != nil || !want.Equals(escrow) {
		return reject("ConstraintSeeds")
	}
	if _, exists := s.accounts[escrow]; exists {
		return &failure{cpi: true, program: solana.SystemProgramID, hasCode: true} // account already in use
	}
	if c, ok := s.collections[collection]; ok && !c.Authority.Equals(authority) {
		return custom(hybrid.ErrCodeInvalidUpdateAuth)
	}
	if args.Max < args.Min {
		return custom(hybrid.ErrCodeMaxSmallerThanMin)
	}
	if f := ensureATA(s, feeATA, feeLocation, token); f != nil {
		return f
	}

	rec := domain.EscrowRecord{
		EscrowAddress:     escrow,
		Collection:        collection,
		SettlementToken:   token,
		Authority:         authority,
		FeeLocation:       feeLocation,
		Name:              args.Name,
		MetadataBaseURI:   args.URI,
		IndexRange:        domain.IndexRange{Min: args.Min, Max: args.Max},
		ExchangeRate:      args.Amount,
		ProtocolFeeAmount: args.FeeAmount,
		NetworkFeeAmount:  args.SolFeeAmount,
		RerollEnabled:     args.Path == hybrid.PathReroll,
		Bump:              bump,
	}
	s.accounts[escrow] = &account{owner: hybrid.ProgramID, data: hybrid.EncodeEscrow(rec), lamports: 1}
	return nil
}

// settlementContext loads and cross-checks the accounts shared by release and capture.
func (l *Ledger) settlementContext(s *state, metas []*solana.AccountMeta) (domain.EscrowRecord, *Asset, *failure) {
	key := func(i int) solana.PublicKey { return metas[i].PublicKey }

	escrowAddr := key(hybrid.SettleEscrow)
	acc, ok := s.accounts[escrowAddr]
	if !ok || !acc.owner.Equals(hybrid.ProgramID) {
		return domain.EscrowRecord{}, nil, reject("AccountNotInitialized")
	}
	rec, err := hybrid.DecodeEscrow(escrowAddr, acc.data)
	if err != nil {
		return domain.EscrowRecord{}, nil, reject("AccountDidNotDeserialize")
	}
	if !rec.Collection.Equals(key(hybrid.SettleCollection)) {
		return rec, nil, custom(hybrid.ErrCodeInvalidCollection)
	}
	if !rec.SettlementToken.Equals(key(hybrid.SettleToken)) {
		return rec, nil, custom(hybrid.ErrCodeInvalidTokenMint)
	}
	if !rec.FeeLocation.Equals(key(hybrid.SettleFeeProjectAccount)) {
		return rec, nil, custom(hybrid.ErrCodeInvalidFeeLocation)
	}

	col, ok := s.collections[rec.Collection]
	if !ok || !col.EscrowDelegated {
		return rec, nil, coreFailure(hybrid.CoreErrInvalidAuthority)
	}

	asset, ok := s.assets[key(hybrid.SettleAsset)]
	if !ok || !asset.Collection.Equals(rec.Collection) {
		return rec, nil, custom(hybrid.ErrCodeInvalidAsset)
	}
	return rec, asset, nil
}

// coreFailure marks a failure raised by the core program invoked by the escrow.
func coreFailure(code uint32) *failure {
	return &failure{cpi: true, program: hybrid.CoreProgramID, code: code, hasCode: true}
}

func (l *Ledger) release(s *state, metas []*solana.AccountMeta) *failure {
	rec, asset, f := l.settlementContext(s, metas)
	if f != nil {
		return f
	}
	owner := metas[hybrid.SettleOwner].PublicKey
	if !asset.Owner.Equals(owner) {
		return coreFailure(hybrid.CoreErrIncorrectAccount)
	}
	if asset.Frozen {
		return coreFailure(hybrid.CoreErrInvalidAuthority)
	}

	userATA := metas[hybrid.SettleUserTokenAccount].PublicKey
	vault := metas[hybrid.SettleEscrowTokenAccount].PublicKey
	if f := ensureATA(s, userATA, owner, rec.SettlementToken); f != nil {
		return f
	}
	if _, ok := s.tokenAccount(vault); !ok {
		return tokenFailure(tokenErrInsufficientFunds)
	}
	if f := transfer(s, vault, userATA, rec.EscrowAddress, rec.ExchangeRate); f != nil {
		return tokenFailureOf(f)
	}

	asset.Owner = rec.EscrowAddress
	return nil
}

func (l *Ledger) capture(s *state, metas []*solana.AccountMeta) *failure {
	rec, asset, f := l.settlementContext(s, metas)
	if f != nil {
		return f
	}
	if !asset.Owner.Equals(rec.EscrowAddress) {
		return custom(hybrid.ErrCodeInvalidAsset)
	}

	owner := metas[hybrid.SettleOwner].PublicKey
	userATA := metas[hybrid.SettleUserTokenAccount].PublicKey
	vault := metas[hybrid.SettleEscrowTokenAccount].PublicKey
	feeATA := metas[hybrid.SettleFeeTokenAccount].PublicKey

	if f := ensureATA(s, vault, rec.EscrowAddress, rec.SettlementToken); f != nil {
		return f
	}
	if f := ensureATA(s, feeATA, rec.FeeLocation, rec.SettlementToken); f != nil {
		return f
	}
	user, ok := s.tokenAccount(userATA)
	if !ok || user.Amount < rec.ExchangeRate+rec.ProtocolFeeAmount {
		return tokenFailure(tokenErrInsufficientFunds)
	}
	if f := transfer(s, userATA, vault, owner, rec.ExchangeRate); f != nil {
		return tokenFailureOf(f)
	}
	if rec.ProtocolFeeAmount > 0 {
		if f := transfer(s, userATA, feeATA, owner, rec.ProtocolFeeAmount); f != nil {
			return tokenFailureOf(f)
		}
	}
	s.lamports[hybrid.FeeSOLAccount] += rec.NetworkFeeAmount

	asset.Owner = owner
	if rec.RerollEnabled {
		span := rec.IndexRange.Max - rec.IndexRange.Min + 1
		asset.URI = fmt.Sprintf("%s%d.json", rec.MetadataBaseURI, rec.IndexRange.Min+rec.Count%span)
	}
	rec.Count++
	s.accounts[rec.EscrowAddress].data = hybrid.EncodeEscrow(rec)
	return nil
}

// tokenFailure marks a failure raised by the token program invoked by the escrow.
func tokenFailure(code uint32) *failure {
	return &failure{cpi: true, program: solana.TokenProgramID, code: code, hasCode: true}
}

func tokenFailureOf(f *failure) *failure {
	if f.hasCode {
		return tokenFailure(f.code)
	}
	return f
}

package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/tidwall/gjson"
)

// ProgramError is an instruction failure reported by the ledger.
type ProgramError struct {
	Index   int              // position in Operation.Instructions; -1 when not attributable
	Program solana.PublicKey // program that raised the error
	Code    uint32           // custom program error code, when HasCode
	HasCode bool
	Reason  string // runtime error name when there is no custom code
	Logs    []string
}

func (e *ProgramError) Error() string {
	if e.HasCode {
		return fmt.Sprintf("instruction %d (%s) failed: custom program error %d", e.Index, e.Program, e.Code)
	}
	return fmt.Sprintf("instruction %d (%s) failed: %s", e.Index, e.Program, e.Reason)
}

// TransactionError is a transaction-level failure not tied to one instruction.
type TransactionError struct {
	Reason string
	Logs   []string
}

func (e *TransactionError) Error() string {
	return "transaction failed: " + e.Reason
}

// AsProgramError extracts a *ProgramError from err's chain.
func AsProgramError(err error) (*ProgramError, bool) {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// parseTxError decodes a runtime error payload such as
// {"InstructionError":[1,{"Custom":6002}]} or "BlockhashNotFound".
// offset is the number of instructions prepended to the operation.
func parseTxError(raw []byte, ixs []solana.Instruction, offset int, logs []string) error {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return &TransactionError{Reason: string(raw), Logs: logs}
	}

	res := gjson.ParseBytes(raw)
	ie := res.Get("InstructionError")
	if !ie.Exists() {
		reason := res.String()
		if res.IsObject() {
			res.ForEach(func(key, _ gjson.Result) bool {
				reason = key.String()
				return false
			})
		}
		return &TransactionError{Reason: reason, Logs: logs}
	}

	index := int(ie.Get("0").Int()) - offset
	pe := &ProgramError{Index: index, Logs: logs}
	if index >= 0 && index < len(ixs) {
		pe.Program = ixs[index].ProgramID()
	} else {
		pe.Index = -1
	}
	if inner, ok := failingProgram(logs); ok {
		pe.Program = inner
	}

	detail := ie.Get("1")
	if custom := detail.Get("Custom"); custom.Exists() {
		pe.Code = uint32(custom.Uint())
		pe.HasCode = true
	} else if detail.IsObject() {
		detail.ForEach(func(key, _ gjson.Result) bool {
			pe.Reason = key.String()
			return false
		})
	} else {
		pe.Reason = detail.String()
	}
	return pe
}

// failingProgram returns the innermost program reporting failure in logs.
// Invoked programs fail before their callers, so the first match wins.
func failingProgram(logs []string) (solana.PublicKey, bool) {
	for _, line := range logs {
		rest, ok := strings.CutPrefix(line, "Program ")
		if !ok {
			continue
		}
		id, tail, ok := strings.Cut(rest, " ")
		if !ok || !strings.HasPrefix(tail, "failed") {
			continue
		}
		pk, err := solana.PublicKeyFromBase58(id)
		if err != nil {
			continue
		}
		return pk, true
	}
	return solana.PublicKey{}, false
}

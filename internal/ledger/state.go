package ledger

import (
	"hybrid-swap/internal/domain"
	solrpc "hybrid-swap/internal/solana"
)

func stateOf(st *solrpc.SignatureStatus, commitment string) SignatureState {
	s := SignatureState{Found: true, Slot: uint64(st.Slot), Status: domain.OperationSubmitted}
	switch {
	case st.Failed():
		s.Status = domain.OperationFailed
		s.Err = string(st.Err)
	case st.Reached(commitment):
		s.Status = domain.OperationConfirmed
	}
	return s
}

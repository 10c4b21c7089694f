// Package wallet abstracts the signing agent that controls the caller's keys.
// Private keys never leave an Agent.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrRejected is returned when the agent declines to sign.
var ErrRejected = errors.New("signing request rejected")

// Agent signs serialized transaction messages on behalf of one account.
type Agent interface {
	PublicKey() solana.PublicKey
	SignMessage(ctx context.Context, message []byte) (solana.Signature, error)
}

// SignFunc is an external signer, e.g. a browser wallet bridge.
type SignFunc func(ctx context.Context, message []byte) (solana.Signature, error)

type callbackAgent struct {
	pub  solana.PublicKey
	sign SignFunc
}

// FromCallback wraps an external signer.
func FromCallback(pub solana.PublicKey, fn SignFunc) Agent {
	return &callbackAgent{pub: pub, sign: fn}
}

func (a *callbackAgent) PublicKey() solana.PublicKey { return a.pub }

func (a *callbackAgent) SignMessage(ctx context.Context, message []byte) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	sig, err := a.sign(ctx, message)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("external signer: %w", err)
	}
	if !sig.Verify(a.pub, message) {
		return solana.Signature{}, fmt.Errorf("external signer returned a signature that does not verify for %s", a.pub)
	}
	return sig, nil
}

type keyAgent struct {
	key solana.PrivateKey
}

// FromPrivateKey creates an agent holding key in memory.
func FromPrivateKey(key solana.PrivateKey) Agent {
	return &keyAgent{key: key}
}

// FromKeygenFile loads a solana-keygen JSON keypair file.
func FromKeygenFile(path string) (Agent, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	return &keyAgent{key: key}, nil
}

func (a *keyAgent) PublicKey() solana.PublicKey { return a.key.PublicKey() }

func (a *keyAgent) SignMessage(ctx context.Context, message []byte) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	return a.key.Sign(message)
}

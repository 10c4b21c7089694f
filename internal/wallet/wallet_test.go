package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromPrivateKey_SignsVerifiably(t *testing.T) {
	w := solana.NewWallet()
	agent := FromPrivateKey(w.PrivateKey)

	msg := []byte("message")
	sig, err := agent.SignMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, w.PublicKey(), agent.PublicKey())
	assert.True(t, sig.Verify(agent.PublicKey(), msg))
}

func TestFromKeygenFile(t *testing.T) {
	w := solana.NewWallet()
	raw := make([]int, len(w.PrivateKey))
	for i, b := range w.PrivateKey {
		raw[i] = int(b)
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	agent, err := FromKeygenFile(path)
	require.NoError(t, err)
	assert.Equal(t, w.PublicKey(), agent.PublicKey())

	_, err = FromKeygenFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestFromCallback(t *testing.T) {
	w := solana.NewWallet()
	other := solana.NewWallet()

	good := FromCallback(w.PublicKey(), func(_ context.Context, m []byte) (solana.Signature, error) {
		return w.PrivateKey.Sign(m)
	})
	_, err := good.SignMessage(context.Background(), []byte("m"))
	require.NoError(t, err)

	wrongKey := FromCallback(w.PublicKey(), func(_ context.Context, m []byte) (solana.Signature, error) {
		return other.PrivateKey.Sign(m)
	})
	_, err = wrongKey.SignMessage(context.Background(), []byte("m"))
	assert.Error(t, err)

	rejecting := FromCallback(w.PublicKey(), func(context.Context, []byte) (solana.Signature, error) {
		return solana.Signature{}, ErrRejected
	})
	_, err = rejecting.SignMessage(context.Background(), []byte("m"))
	assert.True(t, errors.Is(err, ErrRejected))
}

func TestSignMessage_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FromPrivateKey(solana.NewWallet().PrivateKey).SignMessage(ctx, []byte("m"))
	assert.ErrorIs(t, err, context.Canceled)
}

package ta

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruteri/tee-wallet-kms/cryptoutils"
	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/security"
	"github.com/ruteri/tee-wallet-kms/wallet"
)

// handler decodes its input from p, runs, and writes its encoded output.
type handler func(ctx context.Context, tc *Context, p *Params) error

// command adapts a typed handler to the parameter ABI.
func command[In, Out any](fn func(ctx context.Context, tc *Context, in *In) (*Out, error)) handler {
	return func(ctx context.Context, tc *Context, p *Params) error {
		var in In
		if len(p.Input()) > 0 {
			if err := Unmarshal(p.Input(), &in); err != nil {
				return err
			}
		}
		out, err := fn(ctx, tc, &in)
		if err != nil {
			return err
		}
		raw, err := Marshal(out)
		if err != nil {
			return err
		}
		defer security.SecureZero(raw)
		return p.WriteOutput(raw)
	}
}

type none struct{}

var commandTable = map[interfaces.CommandID]handler{
	interfaces.CmdHello:      command(hello),
	interfaces.CmdEcho:       command(echo),
	interfaces.CmdGetVersion: command(getVersion),

	interfaces.CmdCreateWallet:    command(createWallet),
	interfaces.CmdRemoveWallet:    command(removeWallet),
	interfaces.CmdDeriveAddress:   command(deriveAddress),
	interfaces.CmdSignTransaction: command(signTransaction),
	interfaces.CmdGetWalletInfo:   command(getWalletInfo),
	interfaces.CmdListWallets:     command(listWallets),
	interfaces.CmdTestSecurity:    command(testSecurity),

	interfaces.CmdCreateHybridAccount: command(createHybridAccount),
	interfaces.CmdSignWithHybridKey:   command(signWithHybridKey),
	interfaces.CmdVerifySecurityState: command(verifySecurityState),
}

func hello(_ context.Context, _ *Context, _ *none) (*interfaces.HelloOutput, error) {
	return &interfaces.HelloOutput{Message: "Hello from wallet TA"}, nil
}

func echo(_ context.Context, _ *Context, in *interfaces.EchoInput) (*interfaces.EchoOutput, error) {
	return &interfaces.EchoOutput{Message: in.Message}, nil
}

func getVersion(_ context.Context, tc *Context, _ *none) (*interfaces.VersionOutput, error) {
	return &interfaces.VersionOutput{Version: tc.Version, BuildInfo: tc.BuildInfo}, nil
}

func createWallet(ctx context.Context, tc *Context, in *interfaces.CreateWalletInput) (*interfaces.CreateWalletOutput, error) {
	// Reject a bad recipient before any wallet is created.
	if len(in.RecipientPublicKeyPEM) > 0 {
		if err := cryptoutils.ValidateRecipientKey(in.RecipientPublicKeyPEM); err != nil {
			return nil, fmt.Errorf("%w: recipient key: %v", interfaces.ErrInvalidInput, err)
		}
	}

	core, err := tc.Wallets.Create(ctx)
	if err != nil {
		return nil, err
	}
	mnemonic, err := core.Mnemonic()
	if err != nil {
		return nil, err
	}

	out := &interfaces.CreateWalletOutput{WalletID: core.ID()}
	if len(in.RecipientPublicKeyPEM) == 0 {
		out.Mnemonic = mnemonic
		return out, nil
	}
	phrase := []byte(mnemonic)
	defer security.SecureZero(phrase)
	out.EncryptedMnemonic, err = cryptoutils.EncryptForRecipient(in.RecipientPublicKeyPEM, phrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrCryptographic, err)
	}
	return out, nil
}

func removeWallet(ctx context.Context, tc *Context, in *interfaces.WalletIDInput) (*interfaces.RemoveWalletOutput, error) {
	if err := tc.Wallets.Remove(ctx, in.WalletID); err != nil {
		return nil, err
	}
	return &interfaces.RemoveWalletOutput{Removed: true}, nil
}

func (tc *Context) parsePath(path string) (wallet.HDPath, error) {
	if path == "" {
		path = tc.DefaultHDPath
	}
	return wallet.ParseHDPath(path)
}

func deriveAddress(ctx context.Context, tc *Context, in *interfaces.DeriveAddressInput) (*interfaces.DeriveAddressOutput, error) {
	path, err := tc.parsePath(in.HDPath)
	if err != nil {
		return nil, err
	}
	addr, pub, err := tc.Wallets.DeriveAddress(ctx, in.WalletID, path)
	if err != nil {
		return nil, err
	}
	return &interfaces.DeriveAddressOutput{Address: addr, PublicKey: pub}, nil
}

func signTransaction(ctx context.Context, tc *Context, in *interfaces.SignTransactionInput) (*interfaces.SignTransactionOutput, error) {
	path, err := tc.parsePath(in.HDPath)
	if err != nil {
		return nil, err
	}
	signed, err := tc.Wallets.SignTransaction(ctx, in.WalletID, path, &in.Transaction)
	if err != nil {
		return nil, err
	}
	sig, err := wallet.SignatureBytes(signed)
	if err != nil {
		return nil, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSerialization, err)
	}
	return &interfaces.SignTransactionOutput{
		Signature:      sig[:],
		RawTransaction: raw,
		TxHash:         signed.Hash(),
	}, nil
}

func getWalletInfo(ctx context.Context, tc *Context, in *interfaces.WalletIDInput) (*interfaces.WalletInfo, error) {
	info, err := tc.Wallets.Info(ctx, in.WalletID)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func listWallets(_ context.Context, tc *Context, _ *none) (*interfaces.ListWalletsOutput, error) {
	return &interfaces.ListWalletsOutput{WalletIDs: tc.Wallets.List()}, nil
}

func testSecurity(_ context.Context, tc *Context, _ *none) (*interfaces.TestSecurityOutput, error) {
	checks, err := tc.Security.SelfTest()
	if err != nil {
		return nil, err
	}
	return &interfaces.TestSecurityOutput{Passed: true, Checks: checks}, nil
}

func createHybridAccount(ctx context.Context, tc *Context, in *interfaces.CreateHybridAccountInput) (*interfaces.CreateHybridAccountOutput, error) {
	account, err := tc.Accounts.CreateAccount(ctx, in.UserEmail, in.PasskeyPublicKey, in.CredentialID)
	if err != nil {
		return nil, err
	}
	return &interfaces.CreateHybridAccountOutput{
		AccountID:       account.AccountID,
		EthereumAddress: account.Address,
		CreatedAt:       account.CreatedAt,
	}, nil
}

func signWithHybridKey(ctx context.Context, tc *Context, in *interfaces.SignWithHybridKeyInput) (*interfaces.SignWithHybridKeyOutput, error) {
	sig, err := tc.Accounts.SignWithAccount(ctx, in.AccountID, in.TransactionHash)
	if err != nil {
		return nil, err
	}
	return &interfaces.SignWithHybridKeyOutput{Signature: sig}, nil
}

func verifySecurityState(_ context.Context, tc *Context, _ *none) (*interfaces.VerifySecurityStateOutput, error) {
	if err := tc.Engine.VerifySecurityState(); err != nil {
		if errors.Is(err, interfaces.ErrNotInitialized) {
			return nil, err
		}
		return &interfaces.VerifySecurityStateOutput{SecurityVerified: false, StatusMessage: err.Error()}, nil
	}
	if err := tc.Security.ValidateSecurityInvariants(); err != nil {
		return &interfaces.VerifySecurityStateOutput{SecurityVerified: false, StatusMessage: err.Error()}, nil
	}
	return &interfaces.VerifySecurityStateOutput{SecurityVerified: true, StatusMessage: "all checks passed"}, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-wallet-kms/host"
	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/wallet"
)

// selftest drives one wallet and one hybrid account through the host client
// and checks every signature it gets back.
func selftest(ctx context.Context, d *daemon, log *slog.Logger) error {
	client := host.NewWalletClient(d.sessions, log)
	defer client.Close(ctx)

	version, err := client.Version(ctx)
	if err != nil {
		return fmt.Errorf("version: %w", err)
	}
	log.Info("Trusted application reachable", "version", version.Version, "build", version.BuildInfo)

	checks, err := client.TestSecurity(ctx)
	if err != nil {
		return fmt.Errorf("test_security: %w", err)
	}
	if !checks.Passed {
		return fmt.Errorf("security checks failed after %v", checks.Checks)
	}

	created, err := client.CreateWallet(ctx, nil)
	if err != nil {
		return fmt.Errorf("create_wallet: %w", err)
	}
	defer func() {
		if _, err := client.RemoveWallet(ctx, created.WalletID); err != nil {
			log.Warn("Failed to remove self test wallet", "err", err)
		}
	}()

	derived, err := client.DeriveAddress(ctx, created.WalletID, "")
	if err != nil {
		return fmt.Errorf("derive_address: %w", err)
	}
	address := common.Address(derived.Address)

	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	signed, err := client.SignTransaction(ctx, created.WalletID, "", interfaces.EthTransaction{
		ChainID:  1,
		Nonce:    0,
		GasPrice: big.NewInt(20_000_000_000),
		Gas:      21000,
		To:       &to,
		Value:    big.NewInt(1),
	})
	if err != nil {
		return fmt.Errorf("sign_transaction: %w", err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed.RawTransaction); err != nil {
		return fmt.Errorf("decode signed transaction: %w", err)
	}
	signer, _, err := wallet.VerifySignedTransaction(tx)
	if err != nil {
		return fmt.Errorf("verify signed transaction: %w", err)
	}
	if signer != address {
		return fmt.Errorf("transaction signed by %s, expected %s", signer.Hex(), address.Hex())
	}

	info, err := client.WalletInfo(ctx, created.WalletID)
	if err != nil {
		return fmt.Errorf("get_wallet_info: %w", err)
	}
	log.Info("Wallet verified", "walletID", info.WalletID, "address", address.Hex(), "derivations", info.DerivationsCount)

	passkey, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	account, err := client.CreateHybridAccount(ctx, "selftest@walletd.local", crypto.FromECDSAPub(&passkey.PublicKey), "selftest")
	if err != nil {
		return fmt.Errorf("create_hybrid_account: %w", err)
	}
	digest := crypto.Keccak256Hash([]byte("walletd self test"))
	sig, err := client.SignWithHybridKey(ctx, account.AccountID, digest)
	if err != nil {
		return fmt.Errorf("sign_with_hybrid_key: %w", err)
	}
	if err := checkHybridSignature(digest, sig.Signature, common.Address(account.EthereumAddress)); err != nil {
		return err
	}

	state, err := client.VerifySecurityState(ctx)
	if err != nil {
		return fmt.Errorf("verify_security_state: %w", err)
	}
	if !state.SecurityVerified {
		return errors.New(state.StatusMessage)
	}
	return nil
}

// checkHybridSignature recovers the signer of an [R || S || V] signature
// with V in {27, 28}.
func checkHybridSignature(digest common.Hash, sig [65]byte, want common.Address) error {
	raw := sig
	raw[64] -= 27
	pub, err := crypto.SigToPub(digest[:], raw[:])
	if err != nil {
		return fmt.Errorf("recover hybrid signer: %w", err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != want {
		return fmt.Errorf("hybrid signature from %s, expected %s", got.Hex(), want.Hex())
	}
	return nil
}

package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/ta"
)

// WalletClient serves the host-facing wallet protocol over one lazily
// created session. A session lost to a transport failure is replaced on the
// next request.
type WalletClient struct {
	sessions *SessionManager
	log      *slog.Logger

	mu        sync.Mutex
	sessionID string
}

func NewWalletClient(sessions *SessionManager, log *slog.Logger) *WalletClient {
	return &WalletClient{sessions: sessions, log: log}
}

// Handle executes req. It never returns an error: every failure becomes a
// response with Success false and a message in Error.
func (c *WalletClient) Handle(ctx context.Context, req interfaces.WalletRequest) interfaces.WalletResponseEnvelope {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	resp, err := c.handle(ctx, req.Command)
	if err != nil {
		c.log.Debug("Wallet command failed", "requestID", req.RequestID, "type", req.Command.Type, "err", err)
		resp = interfaces.WalletResponse{Error: err.Error()}
	} else {
		resp.Success = true
	}
	resp.Type = req.Command.Type
	return interfaces.WalletResponseEnvelope{RequestID: req.RequestID, Response: resp}
}

func (c *WalletClient) handle(ctx context.Context, cmd interfaces.WalletCommand) (interfaces.WalletResponse, error) {
	switch cmd.Type {
	case interfaces.WalletCreate:
		out, err := c.CreateWallet(ctx, []byte(cmd.RecipientPublicKey))
		if err != nil {
			return interfaces.WalletResponse{}, err
		}
		return interfaces.WalletResponse{
			WalletID:          out.WalletID,
			Mnemonic:          out.Mnemonic,
			EncryptedMnemonic: out.EncryptedMnemonic,
		}, nil

	case interfaces.WalletDeriveAddress:
		out, err := c.DeriveAddress(ctx, cmd.WalletID, cmd.HDPath)
		if err != nil {
			return interfaces.WalletResponse{}, err
		}
		return interfaces.WalletResponse{
			WalletID:  cmd.WalletID,
			Address:   common.Address(out.Address).Hex(),
			PublicKey: hexutil.Encode(out.PublicKey),
		}, nil

	case interfaces.WalletSignTransaction:
		var tx interfaces.EthTransaction
		if err := ta.Unmarshal(cmd.TxBytes, &tx); err != nil {
			return interfaces.WalletResponse{}, fmt.Errorf("tx_bytes: %w", err)
		}
		out, err := c.SignTransaction(ctx, cmd.WalletID, cmd.HDPath, tx)
		if err != nil {
			return interfaces.WalletResponse{}, err
		}
		return interfaces.WalletResponse{
			WalletID:       cmd.WalletID,
			Signature:      hexutil.Encode(out.Signature),
			RawTransaction: hexutil.Encode(out.RawTransaction),
		}, nil

	case interfaces.WalletRemove:
		if _, err := c.RemoveWallet(ctx, cmd.WalletID); err != nil {
			return interfaces.WalletResponse{}, err
		}
		return interfaces.WalletResponse{WalletID: cmd.WalletID}, nil
	}
	return interfaces.WalletResponse{}, fmt.Errorf("%w: command type %q", interfaces.ErrUnsupportedCommand, cmd.Type)
}

// CreateWallet creates a wallet. With a recipient PEM the mnemonic is only
// returned encrypted to that key.
func (c *WalletClient) CreateWallet(ctx context.Context, recipientPEM []byte) (*interfaces.CreateWalletOutput, error) {
	return call[interfaces.CreateWalletOutput](ctx, c, interfaces.CmdCreateWallet,
		interfaces.CreateWalletInput{RecipientPublicKeyPEM: recipientPEM})
}

func (c *WalletClient) DeriveAddress(ctx context.Context, walletID, hdPath string) (*interfaces.DeriveAddressOutput, error) {
	return call[interfaces.DeriveAddressOutput](ctx, c, interfaces.CmdDeriveAddress,
		interfaces.DeriveAddressInput{WalletID: walletID, HDPath: hdPath})
}

func (c *WalletClient) SignTransaction(ctx context.Context, walletID, hdPath string, tx interfaces.EthTransaction) (*interfaces.SignTransactionOutput, error) {
	return call[interfaces.SignTransactionOutput](ctx, c, interfaces.CmdSignTransaction,
		interfaces.SignTransactionInput{WalletID: walletID, HDPath: hdPath, Transaction: tx})
}

func (c *WalletClient) RemoveWallet(ctx context.Context, walletID string) (*interfaces.RemoveWalletOutput, error) {
	return call[interfaces.RemoveWalletOutput](ctx, c, interfaces.CmdRemoveWallet,
		interfaces.WalletIDInput{WalletID: walletID})
}

func (c *WalletClient) WalletInfo(ctx context.Context, walletID string) (*interfaces.WalletInfo, error) {
	return call[interfaces.WalletInfo](ctx, c, interfaces.CmdGetWalletInfo,
		interfaces.WalletIDInput{WalletID: walletID})
}

func (c *WalletClient) ListWallets(ctx context.Context) (*interfaces.ListWalletsOutput, error) {
	return call[interfaces.ListWalletsOutput](ctx, c, interfaces.CmdListWallets, nil)
}

func (c *WalletClient) Version(ctx context.Context) (*interfaces.VersionOutput, error) {
	return call[interfaces.VersionOutput](ctx, c, interfaces.CmdGetVersion, nil)
}

func (c *WalletClient) TestSecurity(ctx context.Context) (*interfaces.TestSecurityOutput, error) {
	return call[interfaces.TestSecurityOutput](ctx, c, interfaces.CmdTestSecurity, nil)
}

func (c *WalletClient) CreateHybridAccount(ctx context.Context, email string, passkeyPublicKey []byte, credentialID string) (*interfaces.CreateHybridAccountOutput, error) {
	return call[interfaces.CreateHybridAccountOutput](ctx, c, interfaces.CmdCreateHybridAccount,
		interfaces.CreateHybridAccountInput{UserEmail: email, PasskeyPublicKey: passkeyPublicKey, CredentialID: credentialID})
}

func (c *WalletClient) SignWithHybridKey(ctx context.Context, accountID string, digest common.Hash) (*interfaces.SignWithHybridKeyOutput, error) {
	return call[interfaces.SignWithHybridKeyOutput](ctx, c, interfaces.CmdSignWithHybridKey,
		interfaces.SignWithHybridKeyInput{AccountID: accountID, TransactionHash: digest})
}

func (c *WalletClient) VerifySecurityState(ctx context.Context) (*interfaces.VerifySecurityStateOutput, error) {
	return call[interfaces.VerifySecurityStateOutput](ctx, c, interfaces.CmdVerifySecurityState, nil)
}

// Close releases the client session.
func (c *WalletClient) Close(ctx context.Context) error {
	c.mu.Lock()
	id := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()
	if id == "" {
		return nil
	}
	return c.sessions.CloseSession(ctx, id)
}

func call[Out any](ctx context.Context, c *WalletClient, cmd interfaces.CommandID, in any) (*Out, error) {
	var input []byte
	if in != nil {
		var err error
		if input, err = ta.Marshal(in); err != nil {
			return nil, err
		}
	}
	output, err := c.invoke(ctx, cmd, input)
	if err != nil {
		return nil, err
	}
	var out Out
	if err := ta.Unmarshal(output, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *WalletClient) invoke(ctx context.Context, cmd interfaces.CommandID, input []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		id, err := c.session(ctx)
		if err != nil {
			return nil, err
		}
		res, err := c.sessions.Invoke(ctx, id, cmd, input)
		if err == nil {
			return res.Output, res.Err()
		}
		if errors.Is(err, interfaces.ErrInvalidInput) {
			return nil, err
		}
		c.forget(id)
		// A session that expired or vanished never saw the command, so one
		// retry on a fresh session is safe. Transport failures are not
		// retried.
		if attempt == 0 && errors.Is(err, interfaces.ErrSessionNotFound) {
			continue
		}
		return nil, err
	}
}

func (c *WalletClient) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return c.sessionID, nil
	}
	id, err := c.sessions.CreateSession(ctx, "")
	if err != nil {
		return "", err
	}
	c.sessionID = id
	return id, nil
}

func (c *WalletClient) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == id {
		c.sessionID = ""
	}
}

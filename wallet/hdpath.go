package wallet

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ruteri/tee-wallet-kms/interfaces"
)

// HDPath is an absolute BIP32 derivation path. Hardened components carry
// the 0x80000000 offset.
type HDPath accounts.DerivationPath

// ParseHDPath parses paths such as "m/44'/60'/0'/0/0". Hardened components
// may be marked with ', h or H.
func ParseHDPath(path string) (HDPath, error) {
	path = strings.TrimSpace(path)
	if path != "m" && !strings.HasPrefix(path, "m/") {
		return nil, fmt.Errorf("%w: %q must start with m/", interfaces.ErrInvalidHDPath, path)
	}
	if path == "m" {
		return HDPath{}, nil
	}

	components := strings.Split(path, "/")
	for i, c := range components[1:] {
		if strings.HasSuffix(c, "h") || strings.HasSuffix(c, "H") {
			components[i+1] = c[:len(c)-1] + "'"
		}
	}

	parsed, err := accounts.ParseDerivationPath(strings.Join(components, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidHDPath, err)
	}
	return HDPath(parsed), nil
}

func (p HDPath) String() string {
	if len(p) == 0 {
		return "m"
	}
	return accounts.DerivationPath(p).String()
}

package depositinfo

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"

	"anchor-platform/internal/asset"
	"anchor-platform/internal/config"
	"anchor-platform/internal/domain"
)

// Self returns the anchor's own distribution account with an id memo derived from the
// transaction id, so incoming payments can be matched without an external service.
type Self struct {
	account string
	assets  *asset.Catalog
}

func NewSelf(account string, assets *asset.Catalog) *Self {
	return &Self{account: account, assets: assets}
}

func (s *Self) Generate(_ context.Context, txn *domain.Transaction) (domain.DepositInfo, error) {
	account := s.account
	if a, ok := s.assets.Lookup(txn.AmountInAsset); ok && a.DistributionAccount != "" {
		account = a.DistributionAccount
	}
	if account == "" {
		return domain.DepositInfo{}, fmt.Errorf("no distribution account for asset %s", txn.AmountInAsset)
	}
	return domain.DepositInfo{
		Address:  account,
		Memo:     MemoFromID(txn),
		MemoType: domain.MemoTypeID,
	}, nil
}

// MemoFromID maps the leading 8 bytes of the transaction id to a decimal id memo.
func MemoFromID(txn *domain.Transaction) string {
	return strconv.FormatUint(binary.BigEndian.Uint64(txn.ID[:8]), 10)
}

type AddressGenerator interface {
	GenerateDepositAddress(ctx context.Context, assetID string) (domain.DepositInfo, error)
}

// Custody delegates address generation to the custody service.
type Custody struct {
	client AddressGenerator
}

func NewCustody(client AddressGenerator) *Custody {
	return &Custody{client: client}
}

func (c *Custody) Generate(ctx context.Context, txn *domain.Transaction) (domain.DepositInfo, error) {
	info, err := c.client.GenerateDepositAddress(ctx, txn.AmountInAsset)
	if err != nil {
		return domain.DepositInfo{}, fmt.Errorf("generate custody deposit address: %w", err)
	}
	return info, nil
}

// None is used when the business server supplies the deposit info itself.
type None struct{}

func (None) Generate(context.Context, *domain.Transaction) (domain.DepositInfo, error) {
	return domain.DepositInfo{}, domain.ErrDepositInfoDisabled
}

// FromConfig builds one generator per protocol family.
func FromConfig(cfg *config.Config, assets *asset.Catalog, custody AddressGenerator) (map[domain.Protocol]domain.DepositInfoGenerator, error) {
	out := make(map[domain.Protocol]domain.DepositInfoGenerator, len(domain.AllProtocols))
	for _, p := range domain.AllProtocols {
		switch kind := cfg.DepositInfo[p]; kind {
		case config.DepositInfoSelf, "":
			out[p] = NewSelf(cfg.DistributionAccount, assets)
		case config.DepositInfoCustody:
			if custody == nil {
				return nil, fmt.Errorf("%s: custody deposit info requires an enabled custody client", p)
			}
			out[p] = NewCustody(custody)
		case config.DepositInfoNone:
			out[p] = None{}
		default:
			return nil, fmt.Errorf("%s: unsupported deposit info generator %q", p, kind)
		}
	}
	return out, nil
}

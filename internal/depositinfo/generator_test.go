package depositinfo

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anchor-platform/internal/asset"
	"anchor-platform/internal/config"
	"anchor-platform/internal/domain"
)

type fakeCustody struct {
	asset string
}

func (f *fakeCustody) GenerateDepositAddress(_ context.Context, assetID string) (domain.DepositInfo, error) {
	f.asset = assetID
	return domain.DepositInfo{Address: "GCUSTODY", Memo: "hello", MemoType: domain.MemoTypeText}, nil
}

func TestSelf(t *testing.T) {
	catalog := asset.NewCatalog(
		asset.Asset{ID: "stellar:USDC:GA", SignificantDecimals: 7},
		asset.Asset{ID: "stellar:EURC:GB", SignificantDecimals: 7, DistributionAccount: "GEURC"},
	)
	gen := NewSelf("GDIST", catalog)
	txn := &domain.Transaction{ID: uuid.MustParse("00000000-0000-0001-0000-000000000000"), AmountInAsset: "stellar:USDC:GA"}

	info, err := gen.Generate(context.Background(), txn)
	require.NoError(t, err)
	assert.Equal(t, "GDIST", info.Address)
	assert.Equal(t, "1", info.Memo)
	assert.Equal(t, domain.MemoTypeID, info.MemoType)
	assert.NoError(t, domain.ValidateMemo(info.Memo, info.MemoType))

	txn.AmountInAsset = "stellar:EURC:GB"
	info, err = gen.Generate(context.Background(), txn)
	require.NoError(t, err)
	assert.Equal(t, "GEURC", info.Address)
}

func TestCustody(t *testing.T) {
	fake := &fakeCustody{}
	info, err := NewCustody(fake).Generate(context.Background(), &domain.Transaction{AmountInAsset: "stellar:USDC:GA"})

	require.NoError(t, err)
	assert.Equal(t, "GCUSTODY", info.Address)
	assert.Equal(t, "stellar:USDC:GA", fake.asset)
}

func TestNone(t *testing.T) {
	_, err := None{}.Generate(context.Background(), &domain.Transaction{})
	assert.ErrorIs(t, err, domain.ErrDepositInfoDisabled)
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		DistributionAccount: "GDIST",
		DepositInfo: map[domain.Protocol]string{
			domain.ProtocolSEP6:  config.DepositInfoSelf,
			domain.ProtocolSEP24: config.DepositInfoCustody,
			domain.ProtocolSEP31: config.DepositInfoNone,
		},
	}

	gens, err := FromConfig(cfg, asset.NewCatalog(), &fakeCustody{})
	require.NoError(t, err)
	assert.IsType(t, &Self{}, gens[domain.ProtocolSEP6])
	assert.IsType(t, &Custody{}, gens[domain.ProtocolSEP24])
	assert.IsType(t, None{}, gens[domain.ProtocolSEP31])

	_, err = FromConfig(cfg, asset.NewCatalog(), nil)
	assert.Error(t, err)
}

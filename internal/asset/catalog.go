package asset

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const stellarPrefix = "stellar:"

// MaxExponent bounds the decimal exponent of any amount. Arithmetic on decimals rescales
// to the smaller exponent, so an unbounded one turns a comparison into a huge allocation.
const MaxExponent = 64

// InRange reports whether d can take part in amount arithmetic.
func InRange(d decimal.Decimal) bool {
	exp := int64(d.Exponent())
	return exp >= -MaxExponent && exp <= MaxExponent
}

type Asset struct {
	// ID is the SEP-38 identifier, e.g. stellar:USDC:GA5Z... or iso4217:USD.
	ID                  string `yaml:"id"`
	SignificantDecimals int32  `yaml:"significant_decimals"`
	DistributionAccount string `yaml:"distribution_account,omitempty"`
}

type file struct {
	Assets []Asset `yaml:"assets"`
}

// Catalog is the read-only set of assets the anchor supports.
type Catalog struct {
	assets map[string]Asset
}

func NewCatalog(assets ...Asset) *Catalog {
	c := &Catalog{assets: make(map[string]Asset, len(assets))}
	for _, a := range assets {
		c.assets[a.ID] = a
	}
	return c
}

func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read asset catalog: %w", err)
	}
	return Load(bytes.NewReader(raw))
}

func Load(r io.Reader) (*Catalog, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode asset catalog: %w", err)
	}
	for _, a := range f.Assets {
		if a.ID == "" {
			return nil, fmt.Errorf("asset catalog entry without id")
		}
		if a.SignificantDecimals < 0 {
			return nil, fmt.Errorf("asset %s: significant_decimals must not be negative", a.ID)
		}
	}
	return NewCatalog(f.Assets...), nil
}

func (c *Catalog) Lookup(id string) (Asset, bool) {
	a, ok := c.assets[id]
	return a, ok
}

// ValidateAmount checks that amount is a positive decimal of a known asset with no more
// fractional digits than the asset allows. allowZero admits zero, used for fees.
func (c *Catalog) ValidateAmount(field, amount, assetID string, allowZero bool) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s.amount is invalid", field)
	}
	if !InRange(d) {
		return decimal.Zero, fmt.Errorf("%s.amount is out of range", field)
	}
	if d.IsNegative() || (!allowZero && d.IsZero()) {
		return decimal.Zero, fmt.Errorf("%s.amount should be positive", field)
	}
	if assetID == "" {
		return decimal.Zero, fmt.Errorf("%s.asset cannot be empty", field)
	}
	a, ok := c.Lookup(assetID)
	if !ok {
		return decimal.Zero, fmt.Errorf("'%s' is not a supported asset", assetID)
	}
	if int64(d.Exponent()) < -int64(a.SignificantDecimals) && !d.Equal(d.Truncate(a.SignificantDecimals)) {
		return decimal.Zero, fmt.Errorf("%s.amount has more than %d significant decimals", field, a.SignificantDecimals)
	}
	return d, nil
}

func IsStellarAsset(id string) bool {
	return strings.HasPrefix(id, stellarPrefix)
}

package enum

type InstrumentClass uint8

const (
	InstrumentSpot InstrumentClass = iota + 1
	InstrumentSwap
	InstrumentFuture
	InstrumentOption
	InstrumentCFD
)

var instrumentClassNames = []string{"", "SPOT", "SWAP", "FUTURE", "OPTION", "CFD"}

func (c InstrumentClass) String() string { return name(c, instrumentClassNames) }

func (c InstrumentClass) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *InstrumentClass) UnmarshalText(b []byte) (err error) {
	*c, err = parse[InstrumentClass](string(b), instrumentClassNames)
	return err
}

type AssetClass uint8

const (
	AssetFX AssetClass = iota + 1
	AssetEquity
	AssetCommodity
	AssetDebt
	AssetIndex
	AssetCryptocurrency
	AssetAlternative
)

var assetClassNames = []string{"", "FX", "EQUITY", "COMMODITY", "DEBT", "INDEX", "CRYPTOCURRENCY", "ALTERNATIVE"}

func (a AssetClass) String() string { return name(a, assetClassNames) }

func (a AssetClass) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AssetClass) UnmarshalText(b []byte) (err error) {
	*a, err = parse[AssetClass](string(b), assetClassNames)
	return err
}

type CurrencyType uint8

const (
	CurrencyCrypto CurrencyType = iota + 1
	CurrencyFiat
	CurrencyCommodityBacked
)

var currencyTypeNames = []string{"", "CRYPTO", "FIAT", "COMMODITY_BACKED"}

func (c CurrencyType) String() string { return name(c, currencyTypeNames) }

func (c CurrencyType) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *CurrencyType) UnmarshalText(b []byte) (err error) {
	*c, err = parse[CurrencyType](string(b), currencyTypeNames)
	return err
}

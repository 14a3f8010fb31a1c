package synth

import (
	"math/big"

	"github.com/holiman/uint256"
)

var (
	basisPoints = big.NewInt(10_000)
	wad         = big.NewInt(1_000_000_000_000_000_000) // 1e18 common value basis
	maxRatio    = new(uint256.Int).SetAllOne()
)

// MaxRatio returns the sentinel ratio used for positions without debt.
func MaxRatio() *uint256.Int {
	return new(uint256.Int).Set(maxRatio)
}

// IsMaxRatio reports whether r is the unbounded ratio sentinel.
func IsMaxRatio(r *uint256.Int) bool {
	return r != nil && r.Eq(maxRatio)
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// USDValue normalises a fixed-point amount into the 18 decimal value basis:
//
//	amount * price * 1e18 / (10^assetDecimals * 10^priceDecimals)
//
// Division floors.
func USDValue(amount *big.Int, assetDecimals uint8, price *big.Int, priceDecimals uint8) *big.Int {
	amount, price = orZero(amount), orZero(price)
	if amount.Sign() <= 0 || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(amount, price)
	num.Mul(num, wad)
	den := new(big.Int).Mul(pow10(assetDecimals), pow10(priceDecimals))
	return num.Quo(num, den)
}

// PriceUSD returns the value of one whole token unit in the 18 decimal basis.
func PriceUSD(price *big.Int, priceDecimals uint8) *big.Int {
	price = orZero(price)
	if price.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(price, wad)
	return num.Quo(num, pow10(priceDecimals))
}

func toRatio(v *big.Int) *uint256.Int {
	if v.Sign() < 0 {
		return uint256.NewInt(0)
	}
	r, overflow := uint256.FromBig(v)
	if overflow {
		return MaxRatio()
	}
	return r
}

// Calculator converts collateral and synthetic quantities between each other
// and into collateralization ratios. It is pure: the same inputs always yield
// the same outputs and no ledger state is touched.
type Calculator struct {
	CollateralDecimals uint8
	SyntheticDecimals  uint8
}

// RatioBps returns collateral value / debt value in basis points. Zero debt,
// or debt whose value truncates to zero, yields MaxRatio.
func (c Calculator) RatioBps(collateral, debt *big.Int, collateralQuote, syntheticQuote PriceQuote) *uint256.Int {
	debt = orZero(debt)
	if debt.Sign() == 0 {
		return MaxRatio()
	}
	collateralUSD := USDValue(collateral, c.CollateralDecimals, collateralQuote.Price, collateralQuote.Decimals)
	debtUSD := USDValue(debt, c.SyntheticDecimals, syntheticQuote.Price, syntheticQuote.Decimals)
	if debtUSD.Sign() == 0 {
		return MaxRatio()
	}
	ratio := new(big.Int).Mul(collateralUSD, basisPoints)
	ratio.Quo(ratio, debtUSD)
	return toRatio(ratio)
}

// Issuance computes the synthetic amount that puts collateralIn alone at the
// target ratio.
func (c Calculator) Issuance(collateralIn *big.Int, collateralQuote, syntheticQuote PriceQuote, targetRatioBps uint64) (*big.Int, error) {
	if targetRatioBps == 0 {
		return nil, ErrCalculation
	}
	syntheticPrice := PriceUSD(syntheticQuote.Price, syntheticQuote.Decimals)
	if syntheticPrice.Sign() == 0 {
		return nil, ErrCalculation
	}
	collateralUSD := USDValue(collateralIn, c.CollateralDecimals, collateralQuote.Price, collateralQuote.Decimals)
	targetDebtUSD := new(big.Int).Mul(collateralUSD, basisPoints)
	targetDebtUSD.Quo(targetDebtUSD, new(big.Int).SetUint64(targetRatioBps))

	issuance := targetDebtUSD.Mul(targetDebtUSD, pow10(c.SyntheticDecimals))
	issuance.Quo(issuance, syntheticPrice)
	if issuance.Sign() == 0 {
		return nil, ErrCalculation
	}
	return issuance, nil
}

// CollateralFor returns the collateral worth exactly the value of
// syntheticIn at current prices.
func (c Calculator) CollateralFor(syntheticIn *big.Int, collateralQuote, syntheticQuote PriceQuote) (*big.Int, error) {
	value := USDValue(syntheticIn, c.SyntheticDecimals, syntheticQuote.Price, syntheticQuote.Decimals)
	return c.collateralForValue(value, collateralQuote)
}

// Seize returns the collateral paid for repaying debt, including the
// liquidation bonus.
func (c Calculator) Seize(repay *big.Int, collateralQuote, syntheticQuote PriceQuote, bonusBps uint64) (*big.Int, error) {
	repayUSD := USDValue(repay, c.SyntheticDecimals, syntheticQuote.Price, syntheticQuote.Decimals)
	bonusUSD := new(big.Int).Mul(repayUSD, new(big.Int).SetUint64(bonusBps))
	bonusUSD.Quo(bonusUSD, basisPoints)
	return c.collateralForValue(repayUSD.Add(repayUSD, bonusUSD), collateralQuote)
}

func (c Calculator) collateralForValue(value *big.Int, collateralQuote PriceQuote) (*big.Int, error) {
	collateralPrice := PriceUSD(collateralQuote.Price, collateralQuote.Decimals)
	if collateralPrice.Sign() == 0 {
		return nil, ErrCalculation
	}
	out := new(big.Int).Mul(value, pow10(c.CollateralDecimals))
	out.Quo(out, collateralPrice)
	if out.Sign() == 0 {
		return nil, ErrCalculation
	}
	return out, nil
}

// subNonNegative returns a-b and panics when the result would be negative.
// Callers validate bounds first, so a negative result is a programming error.
func subNonNegative(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(orZero(a), orZero(b))
	if out.Sign() < 0 {
		panic("synth engine: ledger amount underflow")
	}
	return out
}

package fees

import "math"

// Config holds the fee parameters in effect at calculation time. Values
// come from AppSettings; a copy is passed in so the calculation stays a
// pure function of its inputs.
type Config struct {
	ConversionFeePercent float64
	PayoutFlatFee        float64
}

// Breakdown is the fee snapshot attached to a payout at initiation.
// Once stored it is never recomputed; later fee changes do not alter
// past operations.
type Breakdown struct {
	ConversionFeePercent float64 `json:"conversion_fee_percent"`
	ConversionFeeAmount  float64 `json:"conversion_fee_amount"`
	PayoutFlatFee        float64 `json:"payout_flat_fee"`
	TotalFees            float64 `json:"total_fees"`
	NetAmount            float64 `json:"net_amount"`
}

// RoundCents rounds a monetary amount to 2 fractional digits, half up.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Calculate computes the fee breakdown for a USD amount. Deterministic
// for identical config and input; every intermediate monetary value is
// rounded to cents so the stored snapshot can be replayed exactly.
func Calculate(usdAmount float64, cfg Config) Breakdown {
	gross := RoundCents(usdAmount)
	conversionFee := RoundCents(gross * cfg.ConversionFeePercent / 100)
	flatFee := RoundCents(cfg.PayoutFlatFee)
	totalFees := RoundCents(conversionFee + flatFee)
	net := RoundCents(gross - totalFees)

	return Breakdown{
		ConversionFeePercent: cfg.ConversionFeePercent,
		ConversionFeeAmount:  conversionFee,
		PayoutFlatFee:        flatFee,
		TotalFees:            totalFees,
		NetAmount:            net,
	}
}

// FiatAmount converts a USDC amount at the given rate, rounded to cents.
func FiatAmount(usdcAmount, rate float64) float64 {
	return RoundCents(usdcAmount * rate)
}

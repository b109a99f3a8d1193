package protocol

// Rates and commissions are expressed in parts-per-thousand: 170 = 17%.
const RateDenominator = 1000

// One lock-period unit is one second.
const (
	SecondsPerYear  = 31_536_000
	SecondsPerMonth = 2_592_000 // 30-day month
)

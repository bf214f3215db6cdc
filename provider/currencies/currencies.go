package currencies

import "github.com/sig-0/fxsnap/storage/types"

var (
	USD types.Currency = "USD"
	EUR types.Currency = "EUR"
	GBP types.Currency = "GBP"
	JPY types.Currency = "JPY"
	CNY types.Currency = "CNY"
	TRY types.Currency = "TRY"
	RUB types.Currency = "RUB"
	VES types.Currency = "VES"
)

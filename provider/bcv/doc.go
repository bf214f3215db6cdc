// Package bcv provides the official Banco Central de Venezuela rate provider.
//
// Source: "BCV"
// URL: https://www.bcv.org.ve/
//
// Scrapes the official rates from the BCV homepage. The page quotes
// the VES price of 1 unit of each of:
//
//	USD, EUR, CNY, TRY, RUB
//
// The provider's base currency is VES, so every quote is stored inverted
// (units of the currency per 1 VES). A missing, unparseable or zero quote
// fails the whole fetch.
//
// The effective date is parsed from the "Fecha Valor" field on the page,
// falling back to the fetch time.
package bcv

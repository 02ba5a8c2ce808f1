package settlement

import "github.com/noah-isme/hotel-billing/internal/money"

// Posting is one instrument's share of a settled bill. Split tenders produce one
// posting per instrument, never a composite.
type Posting struct {
	Method Method      `json:"method"`
	Amount money.Money `json:"amount"`
}

// Postings lists what to record for an exact result. Non-exact results have none.
func Postings(res Result, tender Tender) []Posting {
	if !res.Exact() {
		return nil
	}
	if tender.Method.IsSplit() {
		cash, _ := tender.amount(Cash)
		wallet, _ := tender.amount(Fonepay)
		return []Posting{{Method: Cash, Amount: cash}, {Method: Fonepay, Amount: wallet}}
	}
	return []Posting{{Method: tender.Method, Amount: res.GrandTotal}}
}

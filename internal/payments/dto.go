package payments

// TransferRequest is the body of a wallet-to-wallet transfer.
type TransferRequest struct {
	FromWalletID    string `json:"from_wallet_id" validate:"required"`
	ToWalletID      string `json:"to_wallet_id" validate:"required,nefield=FromWalletID"`
	Amount          string `json:"amount" validate:"required,numeric"`
	Reason          string `json:"reason" validate:"max=140"`
	ClientReference string `json:"client_reference" validate:"omitempty,max=64"`
}

// FeeRequest carries the query parameters of a fee estimate.
type FeeRequest struct {
	FromWalletID string `query:"from_wallet_id" validate:"required"`
	ToWalletID   string `query:"to_wallet_id" validate:"required"`
	Amount       string `query:"amount" validate:"required,numeric"`
}

// QuoteResponse renders a Quote with amounts fixed to each currency's places.
type QuoteResponse struct {
	FromCurrency    string `json:"from_currency"`
	ToCurrency      string `json:"to_currency"`
	Amount          string `json:"amount"`
	FeePercentage   string `json:"fee_percentage"`
	FeeAmount       string `json:"fee_amount"`
	TotalAmount     string `json:"total_amount"`
	ExchangeRate    string `json:"exchange_rate"`
	ConvertedAmount string `json:"converted_amount"`
}

// TransferResponse is returned by a committed transfer.
type TransferResponse struct {
	QuoteResponse
	TransactionID       string `json:"transaction_id"`
	CreditTransactionID string `json:"credit_transaction_id"`
	Reference           string `json:"reference"`
	FromBalance         string `json:"from_balance"`
	ToBalance           string `json:"to_balance"`
	CompletedAt         string `json:"completed_at"`
}

// WalletResponse lists a wallet available for transfers.
type WalletResponse struct {
	ID             string `json:"id"`
	Currency       string `json:"currency"`
	Balance        string `json:"balance"`
	PayoutBalance  string `json:"payout_balance"`
	CountryISOCode string `json:"country_iso_code,omitempty"`
}

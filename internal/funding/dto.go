package funding

// AmountRequest carries the amount of a card fund or withdraw request.
type AmountRequest struct {
	Amount string `json:"amount" validate:"required,numeric"`
}

// FundingResponse represents the API response for card funding actions.
type FundingResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference"`
	TransferID    string `json:"transfer_id"`
	Fee           string `json:"fee"`
	CardBalance   string `json:"card_balance"`
	WalletBalance string `json:"wallet_balance"`
}

// StatusResponse is returned by freeze and unfreeze.
type StatusResponse struct {
	CardID string `json:"card_id"`
	Status string `json:"status"`
}

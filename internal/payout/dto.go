package payout

// WithdrawalRequest is the body of a payout from a wallet's payout balance.
type WithdrawalRequest struct {
	Amount      string `json:"amount" validate:"required,numeric"`
	PhoneNumber string `json:"phone_number" validate:"required,e164"`
	Operator    string `json:"operator" validate:"required,oneof=MTN ORANGE AIRTEL MPESA mtn orange airtel mpesa"`
	Reason      string `json:"reason" validate:"max=140"`
	// Priority is honoured for operators only.
	Priority int `json:"priority" validate:"min=0,max=10"`
}

// WithdrawalResponse renders a WithdrawalResult.
type WithdrawalResponse struct {
	Status                string `json:"status"`
	Message               string `json:"message"`
	TransactionID         string `json:"transaction_id,omitempty"`
	QueueID               string `json:"queue_id,omitempty"`
	Reference             string `json:"reference"`
	ProviderTransactionID string `json:"provider_transaction_id,omitempty"`
	Amount                string `json:"amount"`
	FeeAmount             string `json:"fee_amount"`
	TotalAmount           string `json:"total_amount"`
	PayoutBalance         string `json:"payout_balance"`
	Currency              string `json:"currency"`
}

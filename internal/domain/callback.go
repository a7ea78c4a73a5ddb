package domain

// DepositCallback is reported to POST {endpoint}/transaction/addDepositTransaction.
type DepositCallback struct {
	BankCode        string `json:"bankCode"`
	DeviceID        string `json:"deviceId"`
	MerchantCode    string `json:"merchantCode"`
	RawMessage      string `json:"rawMessage"`
	TransactionTime int64  `json:"transactionTime"` // epoch ms
}

// PayoutCallback is reported to POST {endpoint}/transaction/payoutScriptCallback.
type PayoutCallback struct {
	TransactionID string `json:"transactionId"`
	BankCode      string `json:"bankCode"`
	DeviceID      string `json:"deviceId"`
	MerchantCode  string `json:"merchantCode"`
}

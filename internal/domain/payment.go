package domain

import "encoding/json"

// PixPayment is the subset of a gateway payment needed to show a Pix checkout.
// ID keeps the gateway's numeric id as sent.
type PixPayment struct {
	ID               json.Number `json:"id"`
	Status           string      `json:"status"`
	Amount           float64     `json:"amount"`
	QRCode           *string     `json:"qr_code"`
	QRCodeBase64     *string     `json:"qr_code_base64"`
	TicketURL        *string     `json:"ticket_url"`
	DateOfExpiration *string     `json:"date_of_expiration"`
}

// SentMessage is the provider acknowledgement of an outbound message.
type SentMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

package domain

import "strings"

// Channel is the messaging transport an inbound message arrived on.
type Channel string

const (
	ChannelWhatsApp Channel = "WhatsApp"
	ChannelSMS      Channel = "SMS"
)

// WhatsAppPrefix marks a Twilio address as belonging to the WhatsApp channel.
const WhatsAppPrefix = "whatsapp:"

// ChannelOf derives the channel from both endpoints of a message. Either
// endpoint carrying the WhatsApp marker makes the message a WhatsApp message.
func ChannelOf(from, to string) Channel {
	if IsWhatsApp(from) || IsWhatsApp(to) {
		return ChannelWhatsApp
	}
	return ChannelSMS
}

func IsWhatsApp(address string) bool {
	return strings.HasPrefix(address, WhatsAppPrefix)
}

// NormalizeNumber strips the channel prefix from a provider address.
func NormalizeNumber(address string) string {
	return strings.TrimPrefix(address, WhatsAppPrefix)
}

// WhatsAppAddress returns the address with the WhatsApp marker, adding it if absent.
func WhatsAppAddress(number string) string {
	if IsWhatsApp(number) {
		return number
	}
	return WhatsAppPrefix + number
}

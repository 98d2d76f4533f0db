package domain

// Bus channels and streams carrying pricing events.
const (
	ChannelPricing = "pricing"
	ChannelFlips   = "pricing_flips"
	ChannelFills   = "fills"

	StreamPricing = "stream:pricing"
	StreamFlips   = "stream:pricing_flips"
)

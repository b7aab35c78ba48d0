// Package venue holds the fixed, closed set of perpetual-futures venues the
// collector fleet talks to, and the per-venue parameters (transport,
// funding encoding, endpoints) needed to drive a generic collector worker.
package venue

import "time"

// Tag is a lowercase venue identifier drawn from the fixed closed set below.
type Tag string

const (
	Hyperliquid Tag = "hyperliquid"
	Hyena       Tag = "hyena"
	Xyz         Tag = "xyz"
	Flx         Tag = "flx"
	Vntl        Tag = "vntl"
	Km          Tag = "km"
	Variational Tag = "variational"
	Paradex     Tag = "paradex"
	EdgeX       Tag = "edgex"
	Lighter     Tag = "lighter"
	Extended    Tag = "extended"
	Pacifica    Tag = "pacifica"
	Aster       Tag = "aster"
)

// All is the closed set of venue tags, in a stable order used for fleet
// startup and for iterating pairwise venue combinations deterministically.
var All = []Tag{
	Hyperliquid, Hyena, Xyz, Flx, Vntl, Km, Variational, Paradex,
	EdgeX, Lighter, Extended, Pacifica, Aster,
}

// Transport selects which collector runloop flavour (§4.3) drives a venue.
type Transport string

const (
	TransportStreaming Transport = "streaming"
	TransportPolling   Transport = "polling"
)

// FundingEncoding selects the funding-rate conversion family (§4.2).
type FundingEncoding string

const (
	// FundingEncodingFraction: raw is a decimal fraction (e.g. 0.0001); the
	// normalizer scales both hourly and annualized outputs to percent.
	FundingEncodingFraction FundingEncoding = "fraction"
	// FundingEncodingPercent: raw is already expressed in percent units
	// (Lighter); the normalizer does not rescale by 100 a second time.
	FundingEncodingPercent FundingEncoding = "percent"
	// FundingEncodingMilliFraction: Variational's raw field is a decimal
	// fraction scaled by an additional 1000x versus its peers.
	FundingEncodingMilliFraction FundingEncoding = "milli_fraction"
	// FundingEncodingVariableInterval: raw is a decimal fraction and the
	// funding interval varies per payload (Aster); callers must supply the
	// interval explicitly rather than relying on the registry default.
	FundingEncodingVariableInterval FundingEncoding = "variable_interval"
)

// Config captures everything a generic collector worker needs to drive one
// venue without venue-specific code in the worker itself.
type Config struct {
	Tag                  Tag
	Transport            Transport
	FundingEncoding      FundingEncoding
	FundingIntervalHours float64 // default interval; 0 means "use override"

	// PreventiveReconnectEvery re-establishes a streaming connection ahead
	// of the venue's own idle timeout (e.g. Paradex: 45s to pre-empt a 60s
	// server-side close). Zero disables preventive reconnects.
	PreventiveReconnectEvery time.Duration

	// PollEndpoint is the REST endpoint polled on each :00/:15/:30/:45 tick
	// for polling-flavoured venues.
	PollEndpoint string

	// StreamEndpoint is the websocket URL subscribed to for streaming-
	// flavoured venues.
	StreamEndpoint string

	// SubscribeChannel names the market-stats channel subscribed to after
	// connecting, for venues whose stream requires an explicit subscribe
	// message.
	SubscribeChannel string
}

// Registry is the fixed per-venue configuration table backing §4.2 and §4.3.
var Registry = map[Tag]Config{
	Hyperliquid: {
		Tag: Hyperliquid, Transport: TransportPolling,
		FundingEncoding: FundingEncodingFraction, FundingIntervalHours: 8,
		PollEndpoint: "https://api.hyperliquid.xyz/info",
	},
	Hyena: {
		Tag: Hyena, Transport: TransportPolling,
		FundingEncoding: FundingEncodingFraction, FundingIntervalHours: 8,
		PollEndpoint: "https://api.hyena.markets/v1/funding",
	},
	Xyz: {
		Tag: Xyz, Transport: TransportPolling,
		FundingEncoding: FundingEncodingFraction, FundingIntervalHours: 8,
		PollEndpoint: "https://api.xyz.exchange/v1/markets",
	},
	Flx: {
		Tag: Flx, Transport: TransportPolling,
		FundingEncoding: FundingEncodingFraction, FundingIntervalHours: 8,
		PollEndpoint: "https://api.flx.trade/v1/stats",
	},
	Vntl: {
		Tag: Vntl, Transport: TransportPolling,
		FundingEncoding: FundingEncodingFraction, FundingIntervalHours: 8,
		PollEndpoint: "https://api.vntl.exchange/v1/tickers",
	},
	Km: {
		Tag: Km, Transport: TransportPolling,
		FundingEncoding: FundingEncodingFraction, FundingIntervalHours: 8,
		PollEndpoint: "https://api.km.markets/v1/perps",
	},
	Variational: {
		Tag: Variational, Transport: TransportPolling,
		FundingEncoding: FundingEncodingMilliFraction, FundingIntervalHours: 8,
		PollEndpoint: "https://api.variational.io/v1/markets",
	},
	Paradex: {
		Tag: Paradex, Transport: TransportStreaming,
		FundingEncoding: FundingEncodingFraction, FundingIntervalHours: 8,
		StreamEndpoint:           "wss://ws.api.prod.paradex.trade/v1",
		SubscribeChannel:         "markets_summary",
		PreventiveReconnectEvery: 45 * time.Second,
	},
	EdgeX: {
		Tag: EdgeX, Transport: TransportStreaming,
		FundingEncoding: FundingEncodingFraction, FundingIntervalHours: 4,
		StreamEndpoint:   "wss://quote.edgex.exchange/ws",
		SubscribeChannel: "ticker",
	},
	Lighter: {
		Tag: Lighter, Transport: TransportStreaming,
		FundingEncoding: FundingEncodingPercent, FundingIntervalHours: 1,
		StreamEndpoint:   "wss://mainnet.zklighter.elliot.ai/stream",
		SubscribeChannel: "market_stats",
	},
	Extended: {
		Tag: Extended, Transport: TransportPolling,
		FundingEncoding: FundingEncodingFraction, FundingIntervalHours: 1,
		PollEndpoint: "https://api.extended.exchange/api/v1/info/markets",
	},
	Pacifica: {
		Tag: Pacifica, Transport: TransportStreaming,
		FundingEncoding: FundingEncodingFraction, FundingIntervalHours: 1,
		StreamEndpoint:   "wss://ws.pacifica.fi/ws",
		SubscribeChannel: "market_stats",
	},
	Aster: {
		Tag: Aster, Transport: TransportPolling,
		FundingEncoding: FundingEncodingVariableInterval, FundingIntervalHours: 8,
		PollEndpoint: "https://fapi.asterdex.com/fapi/v1/premiumIndex",
	},
}

// Streaming reports whether v uses the streaming collector flavour.
func Streaming(v Tag) bool {
	return Registry[v].Transport == TransportStreaming
}

package protocol

// HTTP routes served by the gateway.
const (
	RouteHealth  = "/health"
	RouteStats   = "/v1/stats"
	RouteErrors  = "/v1/errors"
	RouteWebhook = "/v1/webhook/{channel}"

	RouteChannelConfigs = "/v1/channels/configs"
	RouteChannelConfig  = "/v1/channels/configs/{id}"
)

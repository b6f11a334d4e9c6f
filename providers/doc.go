// Package providers holds the provider description and the backchannel
// exchanger.
//
// A provider is described by an immutable Config value built by one of the
// subpackages:
//   - providers/wechat: single step exchange with an in-client browser variant
//   - providers/dingtalk: four step chained exchange, OAuth2 or QR connect pages
//   - providers/mock: fake backchannel server for tests
//
// The Exchanger dispatches on Config.Mode:
//
//	exchanger := providers.NewExchanger(providers.WithHTTPClient(client))
//	result, err := exchanger.Exchange(ctx, cfg, code, providers.ExternalBrowser)
//
// Transport failures and non-2xx answers surface as *BackchannelError; bodies
// that are not the expected JSON object, or that carry a non-zero errcode,
// wrap ErrProtocol.
package providers

// Package server implements the provider login flow: building the
// authorization redirect and turning the provider's callback into a verified
// identity.
//
// A Server is bound to one provider description (see providers/wechat and
// providers/dingtalk). It coordinates the state codec, the correlation guard,
// and the backchannel exchanger, and reports every callback as exactly one
// CallbackOutcome:
//
//   - Completed: the code was redeemed and an Identity assembled
//   - Failed: the attempt ended; Reason says why and Err keeps the cause
//   - NotApplicable: the request is not for the return path
//
// Hosts plug into the flow through the Events interface; NoopEvents is used
// when none is configured. HTTP plumbing (rate limiting, sign-in, writing the
// redirect) lives in the root oauth package.
//
// Example usage:
//
//	provider, _ := wechat.NewConfig(&wechat.Config{AppID: id, AppSecret: secret})
//
//	srv, err := server.New(provider, codec, guard, providers.NewExchanger(), &server.Config{}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	challenge, err := srv.BuildChallenge(w, r, &security.FlowProperties{RedirectURI: "/home"})
package server

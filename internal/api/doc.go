// Package api is the client side of the dulayni agent service protocol.
//
// # Architecture
//
//   - client.go: Client, payload construction, batch queries, balance and health
//   - auth.go: phone verification endpoints (/auth and /verify)
//   - stream.go: Server-Sent Events reader and the Stream iterator
//   - events.go: typed stream events and the EventSink side-channel
//   - errors.go: error taxonomy and the Outcome classification
//
// # Usage
//
//	client := api.NewClient(api.Options{
//	    BaseURL: cfg.APIURL,
//	    APIKey:  cfg.APIKey,
//	    Defaults: api.Params{Model: cfg.Model},
//	})
//	answer, err := client.Query(ctx, "hello", api.Params{})
//	switch api.Classify(err) {
//	case api.OutcomeAuthExpired:
//	    // authenticate again, then resubmit
//	case api.OutcomePaymentRequired:
//	    // render the top-up prompt
//	}
//
// The client holds the current credential but never decides how to obtain
// one; that is the job of the auth package.
package api

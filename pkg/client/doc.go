// Package client is the metered counterpart of the tunnel gateway.
//
// A Socket holds one WebSocket connection to the gateway and a local view of
// the session balance. Priced calls first make sure the balance covers the
// price, generating and tipping vouchers as needed, then deduct the price and
// send the call:
//
//	sock, err := client.Dial(ctx, client.Config{
//	    URL:       "ws://127.0.0.1:8080/",
//	    Hostname:  "example.com",
//	    Port:      "80",
//	    Generator: voucher.NewKeccakOracle(),
//	})
//	...
//	err = sock.Send(ctx, payload)       // billed per byte
//	for chunk := range sock.Data() {    // billed per byte, refilled in the background
//	    ...
//	}
//
// Refill and deduction are serialized per Socket, so concurrent callers never
// spend the same credit twice. Responses are matched to calls by id in a
// correlation table drained by a single read loop.
package client

// Package callkit binds a handler registry to a uniform RPC calling
// convention. Clients call server-side operations by slash-delimited path,
// arguments and results travel through a serializer that understands
// timestamps, geographic points and dates, and errors carry their HTTP status
// back to the caller.
//
// A minimal server needs only a few lines:
//
//	api := callkit.Group{
//		"greet": callkit.Group{
//			"hello": callkit.Operation(func(c *callkit.Context, args callkit.Args) (any, error) {
//				return "hi", nil
//			}),
//		},
//	}
//	s := callkit.NewServer("greeter", "0.1.0", api)
//	callkit.Serve(s, callkit.WithHTTP(":8080"))
//
// A POST to /greet/hello with body [] answers "hi". Paths whose last segment
// ends with Webhook or -webhook receive the request body as one argument and
// send their result back unwrapped.
//
// See the examples/ directory for progressively more complete servers.
package callkit

// Package broadcast fans activity envelopes out to connected dashboard
// clients over websockets.
//
// Hub is the repo's core.Broadcaster implementation: render-category tool
// calls and serve-command activity callbacks publish through it, and any
// number of dashboard clients subscribe by upgrading against the hub's HTTP
// handler. Delivery is best effort; a client that cannot keep up with the
// feed is dropped rather than slowing everyone else down.
package broadcast

// Package distributor fans parameter updates out to independent subscribers.
//
// A Hub is fed by the session read loops. Publish never blocks: each
// subscriber owns a bounded channel, and an event that does not fit is
// dropped for that subscriber only and counted on its Subscription.
//
//	session reader ──Publish──▶ Hub ──▶ Subscription (buffer N) ──▶ consumer
//	                                └──▶ Subscription (buffer N) ──▶ consumer
//
// Events are the tagged union Event: ParameterUpdate, StateChanged and
// DeviceDisconnected. Consumers switch on the concrete type.
package distributor

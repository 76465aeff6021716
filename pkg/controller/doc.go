// Package controller is the public surface of the runtime.
//
// A Controller owns one session registry, one command sequencer and one
// update hub, and wires them together:
//
//	Connect ──▶ session.Registry ──reader──▶ OnFrame ──▶ distributor.Hub
//	                  ▲                  └──▶ OnControl ──▶ sequencer
//	Set/Subscribe ──▶ sequencer ──Write──┘
//
// Callers address parameters with wire.Address. An address with Node 0 is
// sent with the node of the target device. Values are the tagged Value
// variant, resolved to a wire message once at the API boundary.
//
// Inbound SET_RAW and SET_PERCENT frames become distributor.ParameterUpdate
// events. The engineering value uses the ControlClass registered for the
// address with RegisterClass (raw passthrough by default).
package controller

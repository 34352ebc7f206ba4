// Package protocol defines the control-channel wire protocol between a
// running composition and the process driving it: request, reply, and
// telemetry message codes plus the multipart framing they travel in.
package protocol

// RequestCode identifies a control request. The numeric order is part of
// the wire contract.
type RequestCode uint32

const (
	RequestCompositionStop RequestCode = iota
	RequestCompositionPause
	RequestCompositionUnpause
	RequestInputPortValueModify
	RequestInputPortValueRetrieve
	RequestOutputPortValueRetrieve
	RequestInputPortSummaryRetrieve
	RequestOutputPortSummaryRetrieve
	RequestTriggerPortFireEvent
	RequestPublishedInputNamesRetrieve
	RequestPublishedInputTypesRetrieve
	RequestPublishedInputDetailsRetrieve
	RequestPublishedOutputNamesRetrieve
	RequestPublishedOutputTypesRetrieve
	RequestPublishedOutputDetailsRetrieve
	RequestPublishedInputPortFireEvent
	RequestPublishedInputPortValueModify
	RequestPublishedInputPortValueRetrieve
	RequestPublishedOutputPortValueRetrieve
	RequestSlowHeartbeat
	RequestInputPortTelemetrySubscribe
	RequestInputPortTelemetryUnsubscribe
	RequestOutputPortTelemetrySubscribe
	RequestOutputPortTelemetryUnsubscribe
	RequestEventTelemetrySubscribe
	RequestEventTelemetryUnsubscribe
	RequestAllTelemetrySubscribe
	RequestAllTelemetryUnsubscribe
)

// ReplyCode mirrors each request.
type ReplyCode uint32

const (
	ReplyCompositionStopping ReplyCode = iota
	ReplyCompositionPaused
	ReplyCompositionUnpaused
	ReplyInputPortValueModified
	ReplyInputPortValueRetrieved
	ReplyOutputPortValueRetrieved
	ReplyInputPortSummaryRetrieved
	ReplyOutputPortSummaryRetrieved
	ReplyTriggerPortFiredEvent
	ReplyPublishedInputNamesRetrieved
	ReplyPublishedInputTypesRetrieved
	ReplyPublishedInputDetailsRetrieved
	ReplyPublishedOutputNamesRetrieved
	ReplyPublishedOutputTypesRetrieved
	ReplyPublishedOutputDetailsRetrieved
	ReplyPublishedInputPortFiredEvent
	ReplyPublishedInputPortValueModified
	ReplyPublishedInputPortValueRetrieved
	ReplyPublishedOutputPortValueRetrieved
	ReplySlowHeartbeatAcknowledged
	ReplyInputPortTelemetrySubscribed
	ReplyInputPortTelemetryUnsubscribed
	ReplyOutputPortTelemetrySubscribed
	ReplyOutputPortTelemetryUnsubscribed
	ReplyEventTelemetrySubscribed
	ReplyEventTelemetryUnsubscribed
	ReplyAllTelemetrySubscribed
	ReplyAllTelemetryUnsubscribed
)

// TelemetryCode identifies a telemetry message pushed by the
// composition.
type TelemetryCode uint32

const (
	TelemetryStats TelemetryCode = iota
	TelemetryNodeExecutionStarted
	TelemetryNodeExecutionFinished
	TelemetryInputPortsUpdated
	TelemetryOutputPortsUpdated
	TelemetryPublishedOutputPortsUpdated
	TelemetryEventFinished
	TelemetryEventDropped
	TelemetryError
	TelemetryStopRequested
)

// ReplyFor returns the reply code mirroring a request.
func ReplyFor(code RequestCode) ReplyCode {
	return ReplyCode(code)
}

package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the bridge
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// KeyringService is the service name under which secrets are stored in the
// platform keyring.
const KeyringService = "goterm"

// Event names published through an Emitter.
const (
	EventSessionState      = "session:state"
	EventTerminalData      = "terminal:data"
	EventTerminalExit      = "terminal:exit"
	EventTransferProgress  = "transfer:progress"
	EventTransferDone      = "transfer:done"
	EventTransferError     = "transfer:error"
	EventTransferCancelled = "transfer:cancelled"
	EventHostKeyPrompt     = "hostkey:prompt"
	EventSystemStats       = "system:stats"
)

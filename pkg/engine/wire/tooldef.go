package wire

// ParameterLocationBody is the only parameter location this backend accepts
// for client tools: arguments arrive in the invocation body.
const ParameterLocationBody = "PARAMETER_LOCATION_BODY"

// ParameterSchema is the flat, primitive-only schema of one tool parameter.
type ParameterSchema struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// DynamicParameter declares one parameter of a client tool.
type DynamicParameter struct {
	Name     string          `json:"name"`
	Location string          `json:"location"`
	Schema   ParameterSchema `json:"schema"`
	Required bool            `json:"required"`
}

// ClientToolMarker marks a declaration as client-executed.
type ClientToolMarker struct{}

// TemporaryTool is a per-call tool declaration sent to the backend at call
// creation time. The backend cannot add or change tools once the call exists.
type TemporaryTool struct {
	ModelToolName     string             `json:"modelToolName"`
	Description       string             `json:"description,omitempty"`
	DynamicParameters []DynamicParameter `json:"dynamicParameters,omitempty"`
	Client            ClientToolMarker   `json:"client"`
}

// SelectedTool wraps a TemporaryTool in the shape the call-creation API wants.
type SelectedTool struct {
	TemporaryTool TemporaryTool `json:"temporaryTool"`
}

package core

// ToolDescriptor advertises a tool to a model. Parameters holds a JSON schema
// object (type, properties, required).
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

package protocol

import "github.com/invopop/jsonschema"

// BuildSchema reflects the snapshot wire contract into a JSON schema
// document for client validation and editor tooling.
func BuildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(new(Snapshot))
	schema.Title = "Snake world snapshot"
	schema.Description = "Frame payload served by /game/state and the /game/stream SSE feed"
	return schema
}

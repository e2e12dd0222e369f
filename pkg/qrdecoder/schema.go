package qrdecoder

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/checkpointly/scanvalidator/pkg/contracts"
)

// claimsSchemaURL is a synthetic identifier the compiler indexes its
// compiled schema under; the decoder never fetches it over the network.
const claimsSchemaURL = "https://checkpointly.internal/schemas/ticket-claims.json"

// claimsSchemaDocument is spec.md §4.1's structural rules — required
// fields present, ticketType in the enum — expressed as JSON Schema
// instead of hand-rolled conditionals, matching
// pkg/firewall/firewall.go's compile-once-validate-many use of the same
// library. Cross-field rules (issuedAt < expiresAt) and the
// runtime-configured version allowlist stay in Go, since JSON Schema has
// no natural way to express either.
const claimsSchemaDocument = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["ticketId", "eventId", "ticketType", "version"],
	"properties": {
		"ticketId": {"type": "string", "minLength": 1},
		"eventId": {"type": "string", "minLength": 1},
		"ticketType": {"enum": %s},
		"version": {"type": "integer", "minimum": 1}
	}
}`

// claimsSchema is compiled once at package init, per SPEC_FULL.md's
// Domain Stack entry for C2 (compiled once at package init and shared
// by every Decoder). The document is fixed source, not user input, so a
// compile failure here is a programming error, not a runtime condition.
var claimsSchema = mustCompileClaimsSchema()

func mustCompileClaimsSchema() *jsonschema.Schema {
	enum := make([]string, 0, len(contracts.ValidTicketTypes))
	for t := range contracts.ValidTicketTypes {
		enum = append(enum, `"`+string(t)+`"`)
	}
	doc := fmt.Sprintf(claimsSchemaDocument, "["+strings.Join(enum, ",")+"]")

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(claimsSchemaURL, strings.NewReader(doc)); err != nil {
		panic(fmt.Errorf("qrdecoder: load claims schema: %w", err))
	}
	schema, err := compiler.Compile(claimsSchemaURL)
	if err != nil {
		panic(fmt.Errorf("qrdecoder: compile claims schema: %w", err))
	}
	return schema
}

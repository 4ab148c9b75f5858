// Package llmfactory loads the provider configuration file and creates model adapters from it.
//
// The configuration can be YAML, JSON or TOML. Environment variables referenced as
// ${NAME} are expanded, so tokens do not need to be stored in the file:
//
//	default_provider: claude
//	providers:
//	  - name: claude
//	    type: ANTHROPIC
//	    token: ${ANTHROPIC_API_KEY}
//	    default_model: claude-sonnet-4-5
package llmfactory

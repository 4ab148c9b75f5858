// Package llms defines the contract between the orchestration loop and a language-model
// backend, together with the provider-neutral conversation types.
//
// Each subpackage implements Model for one provider and converts between these types and
// the provider wire format. Adapter failures are reported as *BackendError, classified as
// transient or terminal.
package llms

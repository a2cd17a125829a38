// Package llm contains the model-assisted intent parser and the provider
// contract it calls. Provider adapters live in sub-packages; any provider
// failure degrades to the keyword rules in package intent.
package llm

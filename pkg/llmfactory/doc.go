// Package llmfactory builds llms.Model instances from a providers configuration file
// and selects a model by provider type, model name or agent name.
package llmfactory

// Package llms defines the provider neutral conversation model used by the agent.
//
// A conversation is a sequence of Message values. Each message has a Role and
// a list of parts: text, images, tool calls requested by the model, and the
// responses of those tool calls.
//
// Providers implement Model. Each provider package translates the conversation
// and the advertised tools into its own request shape and parses the reply
// back into a ContentResponse: either final text, or tool calls that must be
// answered before the conversation can continue.
//
// Provider failures are reported as *ProviderError. Providers never retry,
// see the retry package for an explicit retry policy.
package llms

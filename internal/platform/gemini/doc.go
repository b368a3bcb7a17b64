// Package gemini implements generation.Generator on Google's Gemini API.
//
// Chat tasks send their stored history as a multi-turn conversation; fortune
// tasks render a prompt template for the requested day. Transient API
// failures are retried with exponential backoff, and a circuit breaker stops
// calling the API after repeated transient failures.
package gemini

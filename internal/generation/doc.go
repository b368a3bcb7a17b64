// Package generation provides the interface between the task executor and
// external AI/LLM services for content generation. The executor hands a
// Generator the stored payload of a claimed task and records whatever text or
// error comes back; the Gemini implementation lives in platform/gemini.
package generation

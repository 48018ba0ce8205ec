// Package engine defines the boundary between the orchestrator and the
// external services that turn media into text: OCR, image description and
// speech transcription. Concrete engines live under internal/platform.
package engine

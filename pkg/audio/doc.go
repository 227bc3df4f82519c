// Package audio holds the PCM16 helpers shared by the server and client:
// per-turn fragment assembly, little-endian byte conversion and WAV framing.
//
// All audio is 16-bit signed mono. The sample rate always travels alongside
// the samples.
package audio

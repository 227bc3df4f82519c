package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teslashibe/go-voicelink/pkg/pipeline"
)

// ErrNoLLM is returned by Plan when neither side declares an LLM.
var ErrNoLLM = errors.New("session: no LLM on either side")

// Placement says where one stage runs, from this side's point of view.
type Placement string

const (
	PlacementLocal  Placement = "local"  // this side runs it
	PlacementRemote Placement = "remote" // the peer runs it (declared or assumed)
	PlacementNone   Placement = "none"   // nobody runs it; raw data crosses the wire
)

// StagePlan is the placement of each stage plus the resulting wire contract.
type StagePlan struct {
	STT Placement `json:"stt"`
	LLM Placement `json:"llm"`
	TTS Placement `json:"tts"`

	// Input is the message the peer must send to start a cycle:
	// "audio" (audio + end_audio) or "text".
	Input string `json:"input"`

	// Output lists what this side emits per cycle besides complete/error.
	Output []string `json:"output"`

	// PeerKnown is false when the peer never declared its capabilities and
	// remote placements are assumptions.
	PeerKnown bool `json:"peerKnown"`
}

// Plan reconciles this side's capabilities with the peer's. A nil peer means
// the peer has not announced itself: every stage this side lacks is assumed
// to run remotely.
func Plan(self pipeline.Capabilities, peer *pipeline.Capabilities) (StagePlan, error) {
	place := func(stage pipeline.Stage) Placement {
		switch {
		case self.Has(stage):
			return PlacementLocal
		case peer == nil || peer.Has(stage):
			return PlacementRemote
		default:
			return PlacementNone
		}
	}

	p := StagePlan{
		STT:       place(pipeline.StageSTT),
		LLM:       place(pipeline.StageLLM),
		TTS:       place(pipeline.StageTTS),
		PeerKnown: peer != nil,
	}
	if p.LLM == PlacementNone {
		return p, ErrNoLLM
	}

	p.Input = "text"
	if p.STT == PlacementLocal {
		p.Input = "audio"
	}

	if p.STT == PlacementLocal {
		p.Output = append(p.Output, "transcript")
	}
	if p.LLM == PlacementLocal {
		p.Output = append(p.Output, "response_chunk")
		if p.TTS == PlacementLocal {
			p.Output = append(p.Output, "audio")
		}
	}
	return p, nil
}

// String renders the plan compactly, e.g. "stt=local llm=local tts=remote in=audio".
func (p StagePlan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stt=%s llm=%s tts=%s in=%s", p.STT, p.LLM, p.TTS, p.Input)
	if !p.PeerKnown {
		b.WriteString(" (peer unknown)")
	}
	return b.String()
}

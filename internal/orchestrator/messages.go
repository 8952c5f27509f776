package orchestrator

import (
	"fmt"

	"github.com/GriffinCanCode/voicetask/internal/language"
)

// phrase is a status string in both display languages.
type phrase struct{ nl, en string }

func (p phrase) in(l language.Language) string {
	if l == language.Dutch {
		return p.nl
	}
	return p.en
}

func (p phrase) format(l language.Language, args ...any) string {
	return fmt.Sprintf(p.in(l), args...)
}

var (
	msgRequesting   = phrase{"Microfoon toegang aanvragen...", "Requesting microphone access..."}
	msgRecording    = phrase{"Opname... Spreek duidelijk in je microfoon", "Recording... Speak clearly into your microphone"}
	msgProcessing   = phrase{"Audio verwerken...", "Processing audio..."}
	msgTranscribing = phrase{"Audio transcriberen...", "Transcribing audio..."}
	msgExtracting   = phrase{"Taken extraheren...", "Extracting tasks..."}
	msgStoring      = phrase{"Taken opslaan...", "Saving tasks..."}
	msgReady        = phrase{"Klaar om nieuwe taken op te nemen", "Ready to record new tasks"}
	msgStalled      = phrase{"Nog bezig, even geduld...", "Still working, please wait..."}
	msgMaxDuration  = phrase{"Maximale opnameduur bereikt, opname gestopt", "Maximum recording length reached, recording stopped"}
	msgNoTasks      = phrase{"Geen taken gevonden. Probeer opnieuw op te nemen met duidelijkere instructies.", "No tasks found. Try recording again with clearer instructions."}
	msgError        = phrase{"Fout: %s", "Error: %s"}
	msgMicHelp      = phrase{
		"Microfoon toegang geweigerd. Ga naar je systeeminstellingen om microfoon toegang toe te staan.",
		"Microphone access denied. Please check your system settings to allow microphone access.",
	}
)

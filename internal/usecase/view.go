package usecase

import (
	"strconv"

	"github.com/example/cellscan/internal/classifier"
)

// Panel names the one visual state the page shows.
type Panel string

const (
	PanelUpload  Panel = "upload"
	PanelLoading Panel = "loading"
	PanelResult  Panel = "result"
	PanelError   Panel = "error"
)

// Tone is the colour family the verdict is rendered in.
type Tone string

const (
	ToneSuccess Tone = "success"
	ToneFailure Tone = "failure"
)

// View is everything the page needs to render the component.
type View struct {
	Panel        Panel  `json:"panel"`
	Token        uint64 `json:"token"`
	PreviewURL   string `json:"preview_url,omitempty"`
	FileName     string `json:"file_name,omitempty"`
	Label        string `json:"label,omitempty"`
	Confidence   string `json:"confidence,omitempty"`
	Verdict      string `json:"verdict,omitempty"`
	Tone         Tone   `json:"tone,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// PanelFor picks the single visible panel for s.
func PanelFor(s State) Panel {
	switch {
	case !s.HasImage:
		return PanelUpload
	case s.IsLoading:
		return PanelLoading
	case s.ErrorMessage != "":
		return PanelError
	case s.Result != nil:
		return PanelResult
	default:
		// An image with no outcome and nothing pending: offer the drop target again.
		return PanelUpload
	}
}

// FormatConfidence renders a [0,1] fraction as a percentage with two decimals.
func FormatConfidence(fraction float64) string {
	return strconv.FormatFloat(fraction*100, 'f', 2, 64)
}

// Verdict returns the headline for label.
func Verdict(label, benignLabel string) (string, Tone) {
	if label == benignLabel {
		return "No leukemia detected.", ToneSuccess
	}
	return "Leukemia detected: " + label, ToneFailure
}

func buildView(s State, token uint64, benignLabel string) View {
	v := View{
		Panel:      PanelFor(s),
		Token:      token,
		PreviewURL: s.PreviewURL,
	}
	if s.File != nil {
		v.FileName = s.File.Name
	}
	switch v.Panel {
	case PanelResult:
		v.Label = s.Result.Class
		v.Confidence = FormatConfidence(s.Result.Confidence)
		v.Verdict, v.Tone = Verdict(s.Result.Class, benignLabel)
	case PanelError:
		v.ErrorMessage = s.ErrorMessage
	}
	return v
}

func resultFrom(p *classifier.Prediction) *classifier.Prediction {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

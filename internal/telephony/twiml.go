package telephony

import "encoding/xml"

// twimlResponse is the call flow document returned to the provider.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func renderTwiML(verbs ...any) []byte {
	out, err := xml.MarshalIndent(twimlResponse{Verbs: verbs}, "", "    ")
	if err != nil {
		// The document types are static; marshalling cannot fail.
		panic(err)
	}
	return append([]byte(xml.Header), out...)
}

// GreetingTwiML is played once the callee is connected.
func GreetingTwiML() []byte {
	return renderTwiML(
		twimlSay{Voice: "alice", Text: "Hello! You have been connected to our AMD system. Please hold while we connect you."},
		twimlPause{Length: 2},
		twimlSay{Voice: "alice", Text: "Thank you for your patience."},
	)
}

// ErrorTwiML apologises and ends the call.
func ErrorTwiML() []byte {
	return renderTwiML(
		twimlSay{Voice: "alice", Text: "We're sorry, there was an error processing your call. Goodbye."},
		twimlHangup{},
	)
}

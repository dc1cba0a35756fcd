package twilio

import (
	"encoding/xml"
	"fmt"
)

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Say     *twimlSay     `xml:"Say,omitempty"`
	Hangup  *struct{}     `xml:"Hangup,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlSay struct {
	Text string `xml:",chardata"`
}

// streamTwiML builds the <Connect><Stream> TwiML that hands the call's
// media to the bridge. callID is passed as a <Parameter> (not a query
// string) so it survives Twilio's query-string stripping on the Stream URL.
func streamTwiML(streamURL, callID string) (string, error) {
	resp := twimlResponse{
		Connect: &twimlConnect{
			Stream: twimlStream{
				URL: streamURL,
				Parameters: []twimlParameter{
					{Name: "callId", Value: callID},
				},
			},
		},
	}
	body, err := xml.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", err
	}
	return xml.Header + string(body), nil
}

// sayAndHangupTwiML is pushed via UpdateCall when the bridge wants the
// provider to speak natively (TtsUnavailable fallback, or notify mode with
// streaming disabled) and then end the call.
func sayAndHangupTwiML(text string) (string, error) {
	resp := twimlResponse{
		Say:    &twimlSay{Text: text},
		Hangup: &struct{}{},
	}
	body, err := xml.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", err
	}
	return xml.Header + string(body), nil
}

func emptyTwiML() string {
	return fmt.Sprintf("%s<Response></Response>", xml.Header)
}

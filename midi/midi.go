package midi

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // auto-register RtMIDI driver
)

// Output represents a MIDI output connection
type Output struct {
	port drivers.Out
	send func(msg midi.Message) error
}

// ListPorts returns a list of available MIDI output port names
func ListPorts() ([]string, error) {
	ports := midi.GetOutPorts()
	names := make([]string, len(ports))
	for i, port := range ports {
		names[i] = port.String()
	}
	return names, nil
}

// Open opens a MIDI output port by index
func Open(portIndex int) (*Output, error) {
	port, err := midi.OutPort(portIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to get MIDI port %d: %w", portIndex, err)
	}

	send, err := midi.SendTo(port)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}

	return &Output{
		port: port,
		send: send,
	}, nil
}

// Close closes the MIDI output port
func (o *Output) Close() error {
	return o.port.Close()
}

// NoteOn sends a MIDI Note On message
// note: MIDI note number (0-127, where C4=60)
// velocity: note velocity (0-127)
// channel: MIDI channel (0-15, where 0 = channel 1)
func (o *Output) NoteOn(channel, note, velocity uint8) error {
	return o.send(midi.NoteOn(channel, note, velocity))
}

// NoteOff sends a MIDI Note Off message
func (o *Output) NoteOff(channel, note uint8) error {
	return o.send(midi.NoteOff(channel, note))
}

// ControlChange sends a MIDI Control Change message.
func (o *Output) ControlChange(channel, controller, value uint8) error {
	return o.send(midi.ControlChange(channel, controller, value))
}

// ProgramChange sends a MIDI Program Change message.
func (o *Output) ProgramChange(channel, program uint8) error {
	return o.send(midi.ProgramChange(channel, program))
}

// Aftertouch sends a per-note (polyphonic) Aftertouch message.
func (o *Output) Aftertouch(channel, note, pressure uint8) error {
	return o.send(midi.PolyAfterTouch(channel, note, pressure))
}

// ChannelPressure sends a channel-wide Aftertouch message.
func (o *Output) ChannelPressure(channel, pressure uint8) error {
	return o.send(midi.AfterTouch(channel, pressure))
}

// SystemExclusive sends a raw SysEx payload (without the surrounding
// F0/F7 framing bytes, which the library adds).
func (o *Output) SystemExclusive(data []byte) error {
	return o.send(midi.SysEx(data))
}

// Start sends the MIDI realtime Start message.
func (o *Output) Start() error {
	return o.send(midi.Start())
}

// Stop sends the MIDI realtime Stop message.
func (o *Output) Stop() error {
	return o.send(midi.Stop())
}

// Continue sends the MIDI realtime Continue message.
func (o *Output) Continue() error {
	return o.send(midi.Continue())
}

// Reset sends the MIDI realtime System Reset message.
func (o *Output) Reset() error {
	return o.send(midi.Reset())
}

// Clock sends a single MIDI realtime Timing Clock tick.
func (o *Output) Clock() error {
	return o.send(midi.TimingClock())
}

var noteNames = map[string]int{
	"C": 0, "C#": 1, "Db": 1,
	"D": 2, "D#": 3, "Eb": 3,
	"E": 4,
	"F": 5, "F#": 6, "Gb": 6,
	"G": 7, "G#": 8, "Ab": 8,
	"A": 9, "A#": 10, "Bb": 10,
	"B": 11,
}

// NoteNameToMIDI converts a note name (e.g. "C4", "D#5", "Bb3") to its MIDI
// note number, the notation the REPL's "note" command accepts in place of
// a raw integer.
func NoteNameToMIDI(name string) (uint8, error) {
	if len(name) < 2 {
		return 0, fmt.Errorf("invalid note name: %s", name)
	}

	var notePart string
	var octave int
	switch len(name) {
	case 2:
		notePart = name[0:1]
		if _, err := fmt.Sscanf(name[1:2], "%d", &octave); err != nil {
			return 0, fmt.Errorf("invalid note name: %s", name)
		}
	case 3:
		notePart = name[0:2]
		if _, err := fmt.Sscanf(name[2:3], "%d", &octave); err != nil {
			return 0, fmt.Errorf("invalid note name: %s", name)
		}
	default:
		return 0, fmt.Errorf("invalid note name: %s", name)
	}

	noteValue, ok := noteNames[notePart]
	if !ok {
		return 0, fmt.Errorf("invalid note name: %s", name)
	}

	midiNote := (octave+1)*12 + noteValue
	if midiNote < 0 || midiNote > 127 {
		return 0, fmt.Errorf("note out of range: %s", name)
	}
	return uint8(midiNote), nil
}

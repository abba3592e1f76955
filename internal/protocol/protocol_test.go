package protocol

import (
	"testing"
	"time"
)

const testRecvTimeout = 200 * time.Millisecond

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := Message{Type: Status, SwarmID: 3, DroneID: 17, Text: "POS 25.0 0.0"}
	encoded := Encode(msg)

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded != msg {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, msg)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte("not-a-message")); err == nil {
		t.Errorf("expected error decoding malformed message")
	}
}

func TestDecodeMissingText(t *testing.T) {
	decoded, err := Decode([]byte("0|1|2"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Type != Hello || decoded.SwarmID != 1 || decoded.DroneID != 2 || decoded.Text != "" {
		t.Errorf("unexpected decode: %+v", decoded)
	}
}

func TestEncodeTruncatesOversizedText(t *testing.T) {
	longText := make([]byte, 400)
	for i := range longText {
		longText[i] = 'x'
	}
	msg := Message{Type: Command, SwarmID: 0, DroneID: 0, Text: string(longText)}
	encoded := Encode(msg)
	if len(encoded) > MaxDatagram {
		t.Errorf("encoded message exceeds MaxDatagram: got %d bytes", len(encoded))
	}
}

func TestPortMap(t *testing.T) {
	base := 40000
	if got := PortForCenter(base); got != 40001 {
		t.Errorf("PortForCenter: got %d, want 40001", got)
	}
	if got := PortForArtillery(base); got != 40002 {
		t.Errorf("PortForArtillery: got %d, want 40002", got)
	}
	if got := PortForTruck(base, 3); got != 40103 {
		t.Errorf("PortForTruck: got %d, want 40103", got)
	}
	if got := PortForDrone(base, 301); got != 41301 {
		t.Errorf("PortForDrone: got %d, want 41301", got)
	}
}

func TestGlobalDroneID(t *testing.T) {
	if got := GlobalDroneID(3, 0); got != 301 {
		t.Errorf("GlobalDroneID(3,0): got %d, want 301", got)
	}
	if got := GlobalDroneID(3, 4); got != 305 {
		t.Errorf("GlobalDroneID(3,4): got %d, want 305", got)
	}
}

func TestSocketSendRecv(t *testing.T) {
	a, err := Listen(0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer a.Close()
	b, err := Listen(0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer b.Close()

	msg := Message{Type: Hello, SwarmID: 0, DroneID: 101, Text: "DRONE_HELLO 101"}
	if err := a.Send(b.Port(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, _, err := b.Recv(testRecvTimeout)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got != msg {
		t.Errorf("got %+v, want %+v", got, msg)
	}
}

func TestSocketRecvTimeout(t *testing.T) {
	s, err := Listen(0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer s.Close()

	if _, _, err := s.Recv(testRecvTimeout); err == nil {
		t.Errorf("expected timeout error on empty socket")
	}
}

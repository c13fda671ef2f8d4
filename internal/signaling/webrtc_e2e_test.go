package signaling

import (
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"
)

// TestWebRTC_PeersConnectThroughRelay runs two real pion peers on a virtual
// network and lets them negotiate exclusively through the signaling relay,
// the way two browsers would.
func TestWebRTC_PeersConnectThroughRelay(t *testing.T) {
	const (
		cidr = "10.0.0.0/24"
		ipA  = "10.0.0.1"
		ipB  = "10.0.0.2"
	)

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          cidr,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() {
		_ = router.Stop()
	})

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ipA}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ipB}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	apiA, err := newVNetAPI(netA)
	if err != nil {
		t.Fatalf("new api A: %v", err)
	}
	apiB, err := newVNetAPI(netB)
	if err != nil {
		t.Fatalf("new api B: %v", err)
	}

	pcA, err := apiA.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new pc A: %v", err)
	}
	t.Cleanup(func() { _ = pcA.Close() })
	pcB, err := apiB.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new pc B: %v", err)
	}
	t.Cleanup(func() { _ = pcB.Close() })

	e := startTestServer(t, nil)
	a, aID, b, bID := pair(t, e)

	received := make(chan string, 1)
	pcA.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			select {
			case received <- string(msg.Data):
			default:
			}
		})
	})

	// b joined second, so it is the caller.
	dcB, err := pcB.CreateDataChannel("chat", nil)
	if err != nil {
		t.Fatalf("create datachannel: %v", err)
	}
	dcB.OnOpen(func() {
		_ = dcB.SendText("hello over p2p")
	})

	offer, err := pcB.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	setLocalAndGather(t, pcB, offer)
	send(t, b, "offer", map[string]any{"partnerId": aID, "sdp": pcB.LocalDescription()})

	var gotOffer struct {
		SDP      webrtc.SessionDescription `json:"sdp"`
		SenderID string                    `json:"senderId"`
	}
	expectFrame(t, a, "offer", &gotOffer)
	if gotOffer.SenderID != bID || gotOffer.SDP.Type != webrtc.SDPTypeOffer {
		t.Fatalf("offer sender=%q type=%v", gotOffer.SenderID, gotOffer.SDP.Type)
	}
	if err := pcA.SetRemoteDescription(gotOffer.SDP); err != nil {
		t.Fatalf("set remote offer: %v", err)
	}

	answer, err := pcA.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	setLocalAndGather(t, pcA, answer)
	send(t, a, "answer", map[string]any{"partnerId": bID, "sdp": pcA.LocalDescription()})

	var gotAnswer struct {
		SDP      webrtc.SessionDescription `json:"sdp"`
		SenderID string                    `json:"senderId"`
	}
	expectFrame(t, b, "answer", &gotAnswer)
	if gotAnswer.SenderID != aID || gotAnswer.SDP.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer sender=%q type=%v", gotAnswer.SenderID, gotAnswer.SDP.Type)
	}
	if err := pcB.SetRemoteDescription(gotAnswer.SDP); err != nil {
		t.Fatalf("set remote answer: %v", err)
	}

	select {
	case msg := <-received:
		if msg != "hello over p2p" {
			t.Fatalf("datachannel message=%q", msg)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("timed out waiting for the peer-to-peer datachannel")
	}
}

// setLocalAndGather applies desc and waits for ICE gathering so every
// candidate travels inside the SDP.
func setLocalAndGather(t *testing.T, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) {
	t.Helper()
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		t.Fatalf("set local description: %v", err)
	}
	select {
	case <-gathered:
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out gathering ICE candidates")
	}
}

func newVNetAPI(n *vnet.Net) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	se.SetNet(n)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

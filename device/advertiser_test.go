package device

import (
	"testing"
	"time"

	"github.com/bulpan/YEO.PE-sub001/radio"
)

func newAdvertiserUnderTest(t *testing.T) (*radio.Stack, *Advertiser) {
	t.Helper()
	m := radio.NewMedium()
	stack := radio.NewStack(m, "advertiser-under-test")
	adv := NewAdvertiser(stack)
	stack.SetStateCallback(adv.HandleRadioState)
	return stack, adv
}

func TestAdvertiserStartWhileRadioOff(t *testing.T) {
	stack, adv := newAdvertiserUnderTest(t)

	// Radio unavailable is not an error from the protocol's perspective.
	if err := adv.Start("AAAAAA"); err != nil {
		t.Fatalf("Start must defer silently with the radio off, got %v", err)
	}
	if adv.State() != AdvertisementIdle {
		t.Fatal("advertiser must idle while the radio is off")
	}
	if _, ok := stack.Advertising(); ok {
		t.Fatal("nothing may go on the air while the radio is off")
	}

	// Power-on recovers automatically, no caller intervention.
	stack.PowerOn()
	time.Sleep(50 * time.Millisecond)

	if adv.State() != AdvertisementActive {
		t.Fatal("advertiser must recover when the radio powers on")
	}
	onAir, ok := stack.Advertising()
	if !ok {
		t.Fatal("no advertisement on the air after power on")
	}
	if onAir.LocalName != "AAAAAA" {
		t.Errorf("fast-path name = %q, want AAAAAA", onAir.LocalName)
	}
	if !onAir.Connectable {
		t.Error("advertisement must be connectable for the slow path")
	}
}

func TestAdvertiserRejectsInvalidCode(t *testing.T) {
	_, adv := newAdvertiserUnderTest(t)
	if err := adv.Start("short"); err == nil {
		t.Fatal("invalid code must be rejected")
	}
	if err := adv.SetCode("toolongcode"); err == nil {
		t.Fatal("invalid rotation code must be rejected")
	}
}

func TestAdvertiserRotationSwitchesBothChannels(t *testing.T) {
	stack, adv := newAdvertiserUnderTest(t)
	stack.PowerOn()
	time.Sleep(50 * time.Millisecond)

	if err := adv.Start("AAAAAA"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := adv.SetCode("BBBBBB"); err != nil {
		t.Fatalf("SetCode failed: %v", err)
	}

	// Both exposure channels must already report the new code: there is no
	// window where a scanner could observe the old one.
	onAir, ok := stack.Advertising()
	if !ok || onAir.LocalName != "BBBBBB" {
		t.Errorf("advertisement not switched over: %+v (ok=%v)", onAir, ok)
	}
	served, ok := stack.Attribute(PresenceServiceUUID, PresenceCodeCharUUID)
	if !ok || string(served) != "BBBBBB" {
		t.Errorf("characteristic not switched over: %q (ok=%v)", served, ok)
	}
	if adv.CurrentCode() != "BBBBBB" {
		t.Errorf("CurrentCode = %q", adv.CurrentCode())
	}
}

func TestAdvertiserSlowPathOnly(t *testing.T) {
	stack, adv := newAdvertiserUnderTest(t)
	stack.PowerOn()
	time.Sleep(50 * time.Millisecond)

	adv.SetFastPath(false)
	if err := adv.Start("CCCCCC"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	onAir, ok := stack.Advertising()
	if !ok {
		t.Fatal("slow-path advertiser must still broadcast the service")
	}
	if onAir.LocalName != "" {
		t.Errorf("constrained stack must not carry the code in the payload, got %q", onAir.LocalName)
	}
	served, ok := stack.Attribute(PresenceServiceUUID, PresenceCodeCharUUID)
	if !ok || string(served) != "CCCCCC" {
		t.Errorf("characteristic must still serve the code, got %q (ok=%v)", served, ok)
	}
}

func TestAdvertiserPauseResume(t *testing.T) {
	stack, adv := newAdvertiserUnderTest(t)
	stack.PowerOn()
	time.Sleep(50 * time.Millisecond)

	if err := adv.Start("AAAAAA"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	adv.Pause()
	if _, ok := stack.Advertising(); ok {
		t.Fatal("paused advertiser must be off the air")
	}
	if _, ok := stack.Attribute(PresenceServiceUUID, PresenceCodeCharUUID); ok {
		t.Fatal("paused advertiser must withdraw the characteristic")
	}

	adv.Resume()
	onAir, ok := stack.Advertising()
	if !ok || onAir.LocalName != "AAAAAA" {
		t.Fatalf("resume must restore the broadcast, got %+v (ok=%v)", onAir, ok)
	}
}

func TestAdvertiserSurvivesRadioBounce(t *testing.T) {
	stack, adv := newAdvertiserUnderTest(t)
	stack.PowerOn()
	time.Sleep(50 * time.Millisecond)

	if err := adv.Start("AAAAAA"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stack.PowerOff()
	time.Sleep(50 * time.Millisecond)
	if adv.State() != AdvertisementIdle {
		t.Fatal("power loss must idle the advertiser")
	}

	stack.PowerOn()
	time.Sleep(50 * time.Millisecond)
	if adv.State() != AdvertisementActive {
		t.Fatal("power return must re-enter advertising")
	}
	onAir, ok := stack.Advertising()
	if !ok || onAir.LocalName != "AAAAAA" {
		t.Errorf("broadcast not restored after bounce: %+v (ok=%v)", onAir, ok)
	}
}

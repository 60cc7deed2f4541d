package device

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bulpan/YEO.PE-sub001/client"
	"github.com/bulpan/YEO.PE-sub001/radio"
	"github.com/bulpan/YEO.PE-sub001/server/httpapi"
	"github.com/bulpan/YEO.PE-sub001/server/identity"
	"github.com/bulpan/YEO.PE-sub001/server/resolve"
	"github.com/bulpan/YEO.PE-sub001/server/user"
)

// testBackend is a full in-process presence backend.
type testBackend struct {
	srv   *httptest.Server
	users *user.MemoryStore
	ids   *identity.MemoryStore
	alice user.User
	bob   user.User
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := user.NewMemoryStore()
	alice, _ := users.AddNew("alice")
	bob, _ := users.AddNew("bob")
	tokens := httpapi.NewStaticTokens(map[string]string{
		"alice-token": alice.ID,
		"bob-token":   bob.ID,
	})

	ids := identity.NewMemoryStore()
	issuer := identity.NewIssuer(ids, users, 24*time.Hour, time.Hour)
	resolver := resolve.NewResolver(ids, users, users, nil, nil)

	engine := gin.New()
	httpapi.NewHandler(issuer, resolver, nil).Register(engine, tokens)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return &testBackend{srv: srv, users: users, ids: ids, alice: alice, bob: bob}
}

func testDeviceConfig() Config {
	return Config{
		ScanWindow:     400 * time.Millisecond,
		ScanPeriod:     700 * time.Millisecond,
		UploadPeriod:   time.Hour, // uploads are driven explicitly in tests
		ConnectTimeout: 300 * time.Millisecond,
		ReadTimeout:    300 * time.Millisecond,
	}
}

func waitForNearby(t *testing.T, d *Device, name string, timeout time.Duration) client.NearbyUser {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		d.Uploader().UploadNow(context.Background())
		for _, u := range d.Nearby() {
			if u.DisplayIdentity == name {
				return u
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("%s never appeared in the nearby list", name)
	return client.NearbyUser{}
}

func TestDeviceFullLoop(t *testing.T) {
	backend := newTestBackend(t)
	m := radio.NewMedium()

	aliceStack := radio.NewStack(m, "alice-stack-uuid")
	bobStack := radio.NewStack(m, "bob-stack-uuid")
	m.SetRSSI("alice-stack-uuid", "bob-stack-uuid", -58)
	m.SetRSSI("bob-stack-uuid", "alice-stack-uuid", -61)

	aliceDev := New(aliceStack, NewAppEnvironment(), client.New(backend.srv.URL, "alice-token"), testDeviceConfig(), nil)
	bobDev := New(bobStack, NewAppEnvironment(), client.New(backend.srv.URL, "bob-token"), testDeviceConfig(), nil)

	aliceStack.PowerOn()
	bobStack.PowerOn()

	ctx := context.Background()
	if err := aliceDev.Start(ctx); err != nil {
		t.Fatalf("alice start: %v", err)
	}
	defer aliceDev.Stop()
	if err := bobDev.Start(ctx); err != nil {
		t.Fatalf("bob start: %v", err)
	}
	defer bobDev.Stop()

	// 🔁 Both sides discover each other and resolve through the backend.
	got := waitForNearby(t, aliceDev, "bob", 5*time.Second)
	if got.UserID != backend.bob.ID {
		t.Errorf("alice resolved wrong user: %+v", got)
	}
	if got.SignalStrength != -58 {
		t.Errorf("alice's signal = %d, want -58", got.SignalStrength)
	}
	waitForNearby(t, bobDev, "alice", 5*time.Second)

	// Neither side ever sees itself, even though a stack can observe its own
	// broadcast.
	for _, u := range aliceDev.Nearby() {
		if u.UserID == backend.alice.ID {
			t.Error("alice resolved herself")
		}
	}
}

func TestDeviceSlowPathLoop(t *testing.T) {
	backend := newTestBackend(t)
	m := radio.NewMedium()

	aliceStack := radio.NewStack(m, "alice-stack-uuid")
	bobStack := radio.NewStack(m, "bob-stack-uuid")
	m.SetRSSI("alice-stack-uuid", "bob-stack-uuid", -73)

	aliceDev := New(aliceStack, NewAppEnvironment(), client.New(backend.srv.URL, "alice-token"), testDeviceConfig(), nil)
	bobDev := New(bobStack, NewAppEnvironment(), client.New(backend.srv.URL, "bob-token"), testDeviceConfig(), nil)

	// Bob's stack cannot carry the code in the payload; Alice must take the
	// connect-read-disconnect path.
	bobDev.Advertiser().SetFastPath(false)

	aliceStack.PowerOn()
	bobStack.PowerOn()

	ctx := context.Background()
	if err := aliceDev.Start(ctx); err != nil {
		t.Fatalf("alice start: %v", err)
	}
	defer aliceDev.Stop()
	if err := bobDev.Start(ctx); err != nil {
		t.Fatalf("bob start: %v", err)
	}
	defer bobDev.Stop()

	got := waitForNearby(t, aliceDev, "bob", 5*time.Second)
	if got.SignalStrength != -73 {
		t.Errorf("slow path signal = %d, want -73", got.SignalStrength)
	}
	if n := aliceStack.LinkCount(); n != 0 {
		t.Errorf("slow path leaked %d radio links", n)
	}
}

func TestDeviceRotationSwitchover(t *testing.T) {
	backend := newTestBackend(t)
	m := radio.NewMedium()

	aliceStack := radio.NewStack(m, "alice-stack-uuid")
	bobStack := radio.NewStack(m, "bob-stack-uuid")

	aliceDev := New(aliceStack, NewAppEnvironment(), client.New(backend.srv.URL, "alice-token"), testDeviceConfig(), nil)
	bobDev := New(bobStack, NewAppEnvironment(), client.New(backend.srv.URL, "bob-token"), testDeviceConfig(), nil)

	aliceStack.PowerOn()
	bobStack.PowerOn()

	ctx := context.Background()
	if err := aliceDev.Start(ctx); err != nil {
		t.Fatalf("alice start: %v", err)
	}
	defer aliceDev.Stop()
	if err := bobDev.Start(ctx); err != nil {
		t.Fatalf("bob start: %v", err)
	}
	defer bobDev.Stop()

	oldCode := bobDev.Identity().Identifier
	if err := bobDev.Rotate(ctx); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	newCode := bobDev.Identity().Identifier
	if newCode == oldCode {
		t.Fatal("rotation did not change the code")
	}
	if bobDev.Advertiser().CurrentCode() != newCode {
		t.Fatal("broadcast did not switch over")
	}

	// The old code is dead server-side the moment rotation lands.
	if _, ok, _ := backend.ids.Resolve(ctx, oldCode); ok {
		t.Error("pre-rotation code still resolves")
	}

	// Alice re-discovers the fresh code and still sees exactly one bob.
	got := waitForNearby(t, aliceDev, "bob", 5*time.Second)
	if got.UserID != backend.bob.ID {
		t.Errorf("wrong user after rotation: %+v", got)
	}
}

func TestDeviceRefreshesCodeBeforeExpiry(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Short-lived codes: issued for 2s, refreshable in the last 1s.
	users := user.NewMemoryStore()
	alice, _ := users.AddNew("alice")
	tokens := httpapi.NewStaticTokens(map[string]string{"alice-token": alice.ID})
	ids := identity.NewMemoryStore()
	issuer := identity.NewIssuer(ids, users, 2*time.Second, time.Second)
	resolver := resolve.NewResolver(ids, users, users, nil, nil)
	engine := gin.New()
	httpapi.NewHandler(issuer, resolver, nil).Register(engine, tokens)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	m := radio.NewMedium()
	stack := radio.NewStack(m, "alice-stack-uuid")
	stack.PowerOn()

	cfg := testDeviceConfig()
	cfg.RefreshMargin = 500 * time.Millisecond
	dev := New(stack, NewAppEnvironment(), client.New(srv.URL, "alice-token"), cfg, nil)
	if err := dev.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer dev.Stop()

	first := dev.Identity().Identifier

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) && dev.Identity().Identifier == first {
		time.Sleep(50 * time.Millisecond)
	}
	second := dev.Identity().Identifier
	if second == first {
		t.Fatal("code was never refreshed ahead of expiry")
	}
	if !dev.Identity().ExpiresAt.After(time.Now()) {
		t.Error("refreshed code is already expired")
	}
	if got := dev.Advertiser().CurrentCode(); got != second {
		t.Errorf("broadcast carries %q, want the refreshed %q", got, second)
	}
	if _, ok, _ := ids.Resolve(context.Background(), first); ok {
		t.Error("superseded code still resolves")
	}
}

func TestDeviceBlockedUsersInvisible(t *testing.T) {
	backend := newTestBackend(t)
	m := radio.NewMedium()

	aliceStack := radio.NewStack(m, "alice-stack-uuid")
	bobStack := radio.NewStack(m, "bob-stack-uuid")

	aliceDev := New(aliceStack, NewAppEnvironment(), client.New(backend.srv.URL, "alice-token"), testDeviceConfig(), nil)
	bobDev := New(bobStack, NewAppEnvironment(), client.New(backend.srv.URL, "bob-token"), testDeviceConfig(), nil)

	aliceStack.PowerOn()
	bobStack.PowerOn()

	ctx := context.Background()
	if err := aliceDev.Start(ctx); err != nil {
		t.Fatalf("alice start: %v", err)
	}
	defer aliceDev.Stop()
	if err := bobDev.Start(ctx); err != nil {
		t.Fatalf("bob start: %v", err)
	}
	defer bobDev.Stop()

	waitForNearby(t, aliceDev, "bob", 5*time.Second)

	// One block edge hides both directions.
	backend.users.Block(backend.alice.ID, backend.bob.ID)

	time.Sleep(200 * time.Millisecond)
	aliceDev.Uploader().UploadNow(ctx)
	for _, u := range aliceDev.Nearby() {
		if u.UserID == backend.bob.ID {
			t.Error("alice still sees the user she blocked")
		}
	}
	bobDev.Uploader().UploadNow(ctx)
	for _, u := range bobDev.Nearby() {
		if u.UserID == backend.alice.ID {
			t.Error("bob still sees the user who blocked him")
		}
	}
}

func TestDeviceSuspendedCallerCannotStart(t *testing.T) {
	backend := newTestBackend(t)
	backend.users.SetSuspended(backend.alice.ID, true)

	m := radio.NewMedium()
	stack := radio.NewStack(m, "alice-stack-uuid")
	stack.PowerOn()

	dev := New(stack, NewAppEnvironment(), client.New(backend.srv.URL, "alice-token"), testDeviceConfig(), nil)
	err := dev.Start(context.Background())
	if !errors.Is(err, client.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	// Nothing may go on the air for a denied caller.
	if _, ok := stack.Advertising(); ok {
		t.Error("suspended caller's device is broadcasting")
	}
}

func TestDeviceBackgroundingPausesEverything(t *testing.T) {
	backend := newTestBackend(t)
	m := radio.NewMedium()

	env := NewAppEnvironment()
	aliceStack := radio.NewStack(m, "alice-stack-uuid")
	bobStack := radio.NewStack(m, "bob-stack-uuid")

	aliceDev := New(aliceStack, env, client.New(backend.srv.URL, "alice-token"), testDeviceConfig(), nil)
	bobDev := New(bobStack, NewAppEnvironment(), client.New(backend.srv.URL, "bob-token"), testDeviceConfig(), nil)

	aliceStack.PowerOn()
	bobStack.PowerOn()

	ctx := context.Background()
	if err := aliceDev.Start(ctx); err != nil {
		t.Fatalf("alice start: %v", err)
	}
	defer aliceDev.Stop()
	if err := bobDev.Start(ctx); err != nil {
		t.Fatalf("bob start: %v", err)
	}
	defer bobDev.Stop()

	env.SetForeground(false)
	time.Sleep(100 * time.Millisecond)

	if _, ok := aliceStack.Advertising(); ok {
		t.Error("backgrounded device still broadcasting")
	}

	before := aliceDev.Presence().Len()
	time.Sleep(time.Second)
	if aliceDev.Presence().Len() > before {
		t.Error("backgrounded device still recording sightings")
	}

	env.SetForeground(true)
	time.Sleep(100 * time.Millisecond)
	if _, ok := aliceStack.Advertising(); !ok {
		t.Error("foregrounded device not broadcasting again")
	}
	waitForNearby(t, aliceDev, "bob", 5*time.Second)
}

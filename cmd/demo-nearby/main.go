// Command demo-nearby runs the full proximity loop on a simulated radio
// medium: an in-memory backend, two devices discovering each other over the
// fast and slow paths, and the resolved nearby lists each side ends up with.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bulpan/YEO.PE-sub001/client"
	"github.com/bulpan/YEO.PE-sub001/device"
	"github.com/bulpan/YEO.PE-sub001/logger"
	"github.com/bulpan/YEO.PE-sub001/radio"
	"github.com/bulpan/YEO.PE-sub001/server/httpapi"
	"github.com/bulpan/YEO.PE-sub001/server/identity"
	"github.com/bulpan/YEO.PE-sub001/server/resolve"
	"github.com/bulpan/YEO.PE-sub001/server/user"
)

func main() {
	fmt.Println("=== Proximity Presence Demo ===")
	fmt.Println()

	logger.SetLevel(logger.DEBUG)
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// Backend: memory stores, two users, bearer tokens.
	users := user.NewMemoryStore()
	alice, err := users.AddNew("alice")
	if err != nil {
		panic(err)
	}
	bob, err := users.AddNew("bob")
	if err != nil {
		panic(err)
	}
	tokens := httpapi.NewStaticTokens(map[string]string{
		"alice-token": alice.ID,
		"bob-token":   bob.ID,
	})

	identityStore := identity.NewMemoryStore()
	issuer := identity.NewIssuer(identityStore, users, 24*time.Hour, time.Hour)
	resolver := resolve.NewResolver(identityStore, users, users, log, resolve.NewMetrics(prometheus.NewRegistry()))

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	httpapi.NewHandler(issuer, resolver, log).Register(engine, tokens)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	go http.Serve(ln, engine)
	baseURL := "http://" + ln.Addr().String()
	fmt.Printf("Backend listening on %s\n\n", baseURL)

	// Radio medium with two attached devices.
	medium := radio.NewMedium()
	cfg := device.Config{
		ScanWindow:   2 * time.Second,
		ScanPeriod:   4 * time.Second,
		UploadPeriod: 3 * time.Second,
	}

	aliceStack := radio.NewStack(medium, uuid.NewString())
	bobStack := radio.NewStack(medium, uuid.NewString())
	medium.SetRSSI(aliceStack.Address(), bobStack.Address(), -58)
	medium.SetRSSI(bobStack.Address(), aliceStack.Address(), -61)

	aliceDev := device.New(aliceStack, device.NewAppEnvironment(), client.New(baseURL, "alice-token"), cfg, nil)
	bobDev := device.New(bobStack, device.NewAppEnvironment(), client.New(baseURL, "bob-token"), cfg, nil)

	// Bob's stack models a constrained advertiser: the code is only readable
	// through the characteristic, so Alice has to take the slow path.
	bobDev.Advertiser().SetFastPath(false)

	aliceStack.PowerOn()
	bobStack.PowerOn()

	ctx := context.Background()
	if err := aliceDev.Start(ctx); err != nil {
		panic(err)
	}
	if err := bobDev.Start(ctx); err != nil {
		panic(err)
	}

	fmt.Println("Devices running; waiting for discovery and upload rounds...")
	time.Sleep(10 * time.Second)

	printNearby("alice", aliceDev)
	printNearby("bob", bobDev)

	// Privacy action: Bob rotates. His old code stops resolving immediately;
	// Alice re-discovers the fresh one on her next scan window.
	fmt.Println("Bob rotates his presence code (start fresh)...")
	if err := bobDev.Rotate(ctx); err != nil {
		panic(err)
	}
	time.Sleep(6 * time.Second)
	printNearby("alice", aliceDev)

	// Hard privacy boundary: a block in either direction hides both sides.
	fmt.Println("Alice blocks Bob...")
	users.Block(alice.ID, bob.ID)
	time.Sleep(6 * time.Second)
	printNearby("alice", aliceDev)
	printNearby("bob", bobDev)

	aliceDev.Stop()
	bobDev.Stop()
	fmt.Println("Done.")
}

func printNearby(name string, d *device.Device) {
	nearby := d.Nearby()
	fmt.Printf("%s sees %d nearby user(s):\n", name, len(nearby))
	for _, u := range nearby {
		fmt.Printf("  - %s (signal %d dBm)\n", u.DisplayIdentity, u.SignalStrength)
	}
	fmt.Println()
}

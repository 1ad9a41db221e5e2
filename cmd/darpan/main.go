package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/ayusman/darpan/internal/capture"
	"github.com/ayusman/darpan/internal/config"
	"github.com/ayusman/darpan/internal/gateway"
	"github.com/ayusman/darpan/internal/kiosk"
	"github.com/ayusman/darpan/internal/server"
	"github.com/ayusman/darpan/internal/store"
	"github.com/ayusman/darpan/internal/tray"
)

func main() {
	fmt.Println("Darpan - Face Attendance Kiosk")

	configPath := flag.String("config", "darpan.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize the store
	dataDir := cfg.DataDir
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		dataDir = filepath.Join(homeDir, ".darpan")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	st, err := store.New(filepath.Join(dataDir, "darpan.db"))
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	// Restore persisted operator preferences
	mirror := cfg.Camera.MirrorPreview
	if v, ok, err := st.Settings().Get(store.SettingMirrorPreview); err == nil && ok {
		if b, err := strconv.ParseBool(v); err == nil {
			mirror = b
		}
	}
	lastDevice := ""
	if v, ok, err := st.Settings().Get(store.SettingLastDevice); err == nil && ok {
		lastDevice = v
	}

	// Build the capture pipeline
	catalog := capture.NewV4L2Catalog(cfg.RescanInterval())
	session := capture.NewSession(func(device string) capture.Camera {
		return capture.NewCameraWithSize(device, cfg.Camera.Width, cfg.Camera.Height)
	})
	frames := capture.NewFrameStore()
	producer := capture.NewProducer(session, frames, capture.ProducerConfig{
		Width:        cfg.Camera.Width,
		Height:       cfg.Camera.Height,
		FPS:          cfg.Camera.FPS,
		IdleFPS:      cfg.Camera.IdleFPS,
		IdleTimeout:  cfg.Camera.IdleTimeout(),
		MotionThresh: cfg.Camera.MotionThresh,
		Mirror:       mirror,
	})

	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.GatewayTimeout())
	controller := kiosk.NewController(session, frames, producer, gw, st.Events())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fail the session when its device is unplugged
	catalog.Subscribe(func() {
		devices := catalog.ListDevices(ctx)
		ids := make([]string, 0, len(devices))
		for _, d := range devices {
			ids = append(ids, d.ID)
		}
		session.ReconcileDevices(ids)
	})

	// Pick the initial device: the persisted one, else the first
	// usable device found.
	startDevice := lastDevice
	if startDevice == "" {
		for _, d := range catalog.ListDevices(ctx) {
			if d.Usable {
				startDevice = d.ID
				break
			}
		}
	}
	if startDevice != "" {
		go func(device string) {
			if err := session.Start(ctx, device); err != nil {
				log.Printf("Initial device %s: %v", device, err)
			}
		}(startDevice)
	}

	producer.Start()
	catalog.Start(ctx)

	// Find web directory
	webDir := cfg.WebDir
	if webDir == "" {
		webDir = findWebDir()
	}
	if webDir != "" {
		fmt.Printf("Serving static files from: %s\n", webDir)
	}

	srv := server.New(server.Config{
		WebDir:     webDir,
		Catalog:    catalog,
		Session:    session,
		Producer:   producer,
		Frames:     frames,
		Controller: controller,
		Store:      st,
		Gateway:    gw,
	})

	go func() {
		fmt.Printf("Starting server on %s\n", cfg.ListenAddr)
		if err := srv.ListenAndServe(cfg.ListenAddr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Tray controls: pausing releases the camera entirely so other
	// applications can use it.
	tr := tray.New()
	tr.OnToggle(func(enabled bool) {
		if enabled {
			device := session.Device()
			if device == "" {
				device = startDevice
			}
			if device != "" {
				go func() {
					if err := session.Start(ctx, device); err != nil {
						log.Printf("Resume device %s: %v", device, err)
					}
				}()
			}
			producer.Start()
		} else {
			producer.Stop()
			session.Stop()
			frames.Clear()
		}
	})
	tr.OnOpen(func() {
		if err := exec.Command("xdg-open", "http://localhost"+cfg.ListenAddr).Start(); err != nil {
			log.Printf("Open kiosk UI: %v", err)
		}
	})
	controller.Subscribe(func(e kiosk.Event) {
		if e.Type == "action" {
			tr.SetLastEvent(e.Action + " " + e.Identity)
		}
	})
	// Cancel background work (catalog rescan, any pending device
	// start) as soon as quit is chosen, before the tray loop unwinds.
	tr.OnQuit(cancel)

	// Blocks until quit
	tr.Run()

	// Orderly teardown: stop producing before releasing the camera.
	producer.Stop()
	session.Stop()
	catalog.Stop()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.darpan/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	// Check relative paths from current working directory
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	// Check home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".darpan", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}

package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.bug.st/serial"

	"lanebot/lib"
	"lanebot/lib/camera"
	"lanebot/lib/telemetry"
)

// hardware holds the opened devices.
type hardware struct {
	roomba  *lib.Roomba
	head    *lib.SensorHead
	meter   *camera.LightMeter
	light   lib.LightSensor
	chassis *lib.Chassis
}

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	probe := flag.Bool("probe", false, "print light and distance readings instead of driving")
	httpAddr := flag.String("http", ":8080", "address of the control HTTP server")
	flag.Parse()

	cfg := lib.DefaultRobotConfig()
	if *configPath != "" {
		loaded, err := lib.LoadRobotConfig(*configPath)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		cfg = *loaded
	}

	if cfg.Hardware.Roomba.Path == "" || cfg.Hardware.Head.Path == "" {
		fmt.Println("Usage: lanebot -config <file>  (hardware.roomba.path and hardware.head.path must be set)")
		listPorts()
		os.Exit(1)
	}

	hw, err := openHardware(cfg)
	if err != nil {
		log.Fatalf("Failed to open hardware: %v", err)
	}
	defer hw.Close()

	if *probe {
		runProbe(hw, cfg.Hardware.Camera.ShowWindow)
		return
	}

	runID := telemetry.NewRunID()
	sinks, closers := openTelemetry(cfg.Telemetry, runID)
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	log.Printf("Run %s", runID)

	robot, err := lib.NewRobot(cfg, hw.light, hw.head, hw.chassis, sinks, lib.RealClock{})
	if err != nil {
		log.Fatalf("Failed to create robot: %v", err)
	}
	defer robot.Stop()

	http.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(robot.Status()); err != nil {
			log.Printf("Error writing response: %v", err)
		}
	})

	http.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := robot.Start(); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, lib.ErrRunning) {
				status = http.StatusConflict
			}
			log.Printf("Error starting robot: %v", err)
			http.Error(w, fmt.Sprintf("Error: %v", err), status)
			return
		}
		fmt.Fprint(w, "Started")
	})

	http.HandleFunc("/stop", func(w http.ResponseWriter, r *http.Request) {
		robot.Stop()
		fmt.Fprint(w, "Stopped")
	})

	server := &http.Server{Addr: *httpAddr}
	go func() {
		log.Printf("Starting server on %s...", *httpAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")
	server.Close()
}

func listPorts() {
	ports, err := serial.GetPortsList()
	if err != nil {
		log.Fatalf("Error getting serial ports: %v", err)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found!")
		return
	}
	fmt.Println("Available serial ports:")
	for _, port := range ports {
		fmt.Println("  " + port)
	}
}

func openHardware(cfg lib.RobotConfig) (*hardware, error) {
	hw := &hardware{
		roomba: lib.NewRoomba(cfg.Hardware.Roomba),
		head:   lib.NewSensorHead(cfg.Hardware.Head),
	}

	if err := hw.roomba.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to Roomba: %w", err)
	}
	log.Println("Connected to Roomba")
	if err := hw.roomba.Start(); err != nil {
		hw.Close()
		return nil, fmt.Errorf("starting Roomba: %w", err)
	}
	if err := hw.roomba.SafeMode(); err != nil {
		hw.Close()
		return nil, fmt.Errorf("setting Roomba to safe mode: %w", err)
	}
	log.Println("Roomba in safe mode")

	if err := hw.head.Connect(); err != nil {
		hw.Close()
		return nil, fmt.Errorf("connecting to sensor head: %w", err)
	}
	log.Println("Connected to sensor head")

	hw.light = hw.head
	if cfg.Hardware.LightSource == lib.LightSourceCamera {
		meter, err := camera.NewLightMeter(cfg.Hardware.Camera)
		if err != nil {
			hw.Close()
			return nil, err
		}
		hw.meter = meter
		meter.Start()
		if err := waitForFrame(meter, 5*time.Second); err != nil {
			hw.Close()
			return nil, err
		}
		hw.light = meter
		log.Println("Camera light meter running")
	}

	chassis, err := lib.NewChassis(cfg.Chassis, hw.roomba, hw.head)
	if err != nil {
		hw.Close()
		return nil, err
	}
	hw.chassis = chassis
	return hw, nil
}

func waitForFrame(meter *camera.LightMeter, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for meter.Frames() == 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("no camera frame within %v", timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

func (hw *hardware) Close() {
	if hw.roomba != nil {
		hw.roomba.Stop()
		hw.roomba.Close()
	}
	if hw.head != nil {
		hw.head.Close()
	}
	if hw.meter != nil {
		hw.meter.Close()
	}
}

// openTelemetry starts every configured sink. A sink that fails to start is
// logged and skipped.
func openTelemetry(cfg lib.TelemetryConfig, runID string) (lib.MultiTelemetry, []io.Closer) {
	var sinks lib.MultiTelemetry
	var closers []io.Closer

	if cfg.StreamAddr != "" {
		stream, err := telemetry.Listen(cfg.StreamAddr, cfg.QueueSize)
		if err != nil {
			log.Printf("Telemetry stream disabled: %v", err)
		} else {
			log.Printf("Telemetry stream listening on %s", stream.Addr())
			sinks = append(sinks, stream)
			closers = append(closers, stream)
		}
	}
	if cfg.MQTT.Broker != "" {
		m, err := telemetry.DialMQTT(cfg.MQTT, runID)
		if err != nil {
			log.Printf("MQTT telemetry disabled: %v", err)
		} else {
			sinks = append(sinks, m)
			closers = append(closers, m)
		}
	}
	if cfg.SQLitePath != "" {
		rec, err := telemetry.OpenRecorder(cfg.SQLitePath, runID, cfg.QueueSize*4)
		if err != nil {
			log.Printf("SQLite telemetry disabled: %v", err)
		} else {
			sinks = append(sinks, rec)
			closers = append(closers, rec)
		}
	}
	return sinks, closers
}

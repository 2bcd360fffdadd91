package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// runProbe prints light and distance readings until Ctrl+C or ESC. Used to
// pick the calibration and the distance thresholds on a new track.
func runProbe(hw *hardware, showWindow bool) {
	fmt.Println("Probing sensors...")
	fmt.Println("Press Ctrl+C or ESC to exit")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	// Window display functions must run in the main thread
	for {
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
			return
		case <-ticker.C:
			light, err := hw.light.ReadAmbientLight()
			if err != nil {
				fmt.Printf("light: %v\n", err)
			}
			dist, err := hw.head.ReadDistance()
			if err != nil {
				fmt.Printf("distance: %v\n", err)
			}
			fmt.Printf("light %.1f%%  distance %.0f mm\n", light, dist)
		default:
			if showWindow && hw.meter != nil && hw.meter.ShowCurrentFrame() {
				if key := hw.meter.WaitKey(1); key == 27 { // ESC key
					fmt.Println("\nESC pressed, shutting down...")
					return
				}
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

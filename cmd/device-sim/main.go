// device-sim publishes synthetic irrigation log batches against a broker,
// mimicking a controller reporting valve open/close cycles with the
// occasional failure, skip, or user cancellation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type logEvent struct {
	Timestamp    int64 `json:"timestamp"`
	StatusCode   int   `json:"status_code"`
	ValveID      *int  `json:"valve_id,omitempty"`
	ProgramIndex *int  `json:"program_index,omitempty"`
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	serial := flag.String("serial", "HW-12345678", "Device serial number")
	valves := flag.Int("valves", 3, "Number of valves to cycle through")
	program := flag.Int("program", 0, "Zero-based program index to report")
	interval := flag.Duration("interval", 5*time.Second, "Interval between published batches")
	failureRate := flag.Float64("failure-rate", 0.1, "Probability of reporting a failure instead of a clean cycle")

	flag.Parse()

	clientID := fmt.Sprintf("%s-simulator-%d", *serial, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	topic := fmt.Sprintf("server/%s/post/log", *serial)
	valve := 0

	publish := func() {
		now := time.Now().Unix()
		valveID := valve
		valve = (valve + 1) % *valves

		var batch []logEvent
		if rand.Float64() < *failureRate {
			batch = []logEvent{{
				Timestamp:    now,
				StatusCode:   3, // open failed
				ValveID:      &valveID,
				ProgramIndex: program,
			}}
		} else {
			batch = []logEvent{
				{Timestamp: now, StatusCode: 1, ValveID: &valveID, ProgramIndex: program},
				{Timestamp: now + 30, StatusCode: 2, ValveID: &valveID, ProgramIndex: program},
			}
		}

		data, err := json.Marshal(batch)
		if err != nil {
			log.Printf("failed to encode batch: %v", err)
			return
		}

		token := client.Publish(topic, 0, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		log.Printf("published %s valve=%d events=%d", topic, valveID, len(batch))
	}

	publish()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			publish()
		}
	}
}
